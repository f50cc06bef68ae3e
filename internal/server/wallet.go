package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"missionline/internal/domain"
	"missionline/internal/engine"
	"missionline/internal/repo"
)

func registerWallet(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-balance",
		Method:      http.MethodGet,
		Path:        "/wallet",
		Summary:     "Current balance",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body BalanceResponse `json:"body"`
	}, error) {
		b, err := e.Balance(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BalanceResponse `json:"body"`
		}{Body: BalanceResponse{Balance: b.String()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-transactions",
		Method:      http.MethodGet,
		Path:        "/wallet/transactions",
		Summary:     "List ledger transactions, oldest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type      string `query:"type" enum:"reward,penalty,purchase"`
		MissionID string `query:"mission_id"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body paginatedTransactions `json:"body"`
	}, error) {
		items, err := e.ListTransactions(ctx, repo.TxFilter{
			Type:      domain.TxType(input.Type),
			MissionID: input.MissionID,
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedTransactions `json:"body"`
		}{Body: paginatedTransactions{Items: mapTransactions(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "credit-points",
		Method:      http.MethodPost,
		Path:        "/wallet/credit",
		Summary:     "Credit points",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreditRequest `json:"body"`
	}) (*struct {
		Body CreditResponse `json:"body"`
	}, error) {
		amount, err := parseAmount("amount", input.Body.Amount)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.CreditPoints(ctx, amount, input.Body.Description, stringOrEmpty(input.Body.MissionID))
		if err != nil {
			return nil, handleError(err)
		}
		b, err := e.Balance(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := CreditResponse{Transaction: transactionResponse(t), Balance: b.String()}
		return &struct {
			Body CreditResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "spend-points",
		Method:      http.MethodPost,
		Path:        "/wallet/spend",
		Summary:     "Spend points; ok is false when the balance is short",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body SpendRequest `json:"body"`
	}) (*struct {
		Body SpendResponse `json:"body"`
	}, error) {
		amount, err := parseAmount("amount", input.Body.Amount)
		if err != nil {
			return nil, handleError(err)
		}
		ok, err := e.SpendPoints(ctx, amount, input.Body.Description)
		if err != nil {
			return nil, handleError(err)
		}
		b, err := e.Balance(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SpendResponse `json:"body"`
		}{Body: SpendResponse{OK: ok, Balance: b.String()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-ledger",
		Method:      http.MethodGet,
		Path:        "/wallet/verify",
		Summary:     "Compare the balance with the transaction sum",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body VerifyResponse `json:"body"`
	}, error) {
		res, err := e.VerifyLedger(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VerifyResponse `json:"body"`
		}{Body: verifyResponse(res)}, nil
	})
}
