package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"missionline/internal/domain"
	"missionline/internal/engine"
	"missionline/internal/repo"
)

type missionPath struct {
	ID string `path:"id"`
}

type missionBody struct {
	Body MissionResponse `json:"body"`
}

func registerMissions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-mission",
		Method:        http.MethodPost,
		Path:          "/missions",
		Summary:       "Create a custom mission",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateMissionRequest `json:"body"`
	}) (*missionBody, error) {
		reward, err := parseOptionalAmount("reward_amount", input.Body.RewardAmount)
		if err != nil {
			return nil, handleError(err)
		}
		penalty, err := parseOptionalAmount("penalty_amount", input.Body.PenaltyAmount)
		if err != nil {
			return nil, handleError(err)
		}
		m, err := e.CreateMission(ctx, domain.Draft{
			Label:           domain.Label(input.Body.Label),
			Title:           input.Body.Title,
			Description:     stringOrEmpty(input.Body.Description),
			DurationMinutes: input.Body.DurationMinutes,
			ScheduledAt:     input.Body.ScheduledAt,
			Source:          domain.SourceCustom,
			Visible:         input.Body.Visible,
			Essential:       input.Body.Essential,
			RewardAmount:    reward,
			PenaltyAmount:   penalty,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &missionBody{Body: missionResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-missions",
		Method:      http.MethodGet,
		Path:        "/missions",
		Summary:     "List missions",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status    string `query:"status" enum:"pending,scheduled,active,completed,refused,failed"`
		Label     string `query:"label" enum:"reading,movement,focus,mental_break,creativity,routine,social,admin"`
		Scheduled bool   `query:"scheduled"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body paginatedMissions `json:"body"`
	}, error) {
		items, err := e.ListMissions(ctx, repo.MissionFilter{
			Status:    domain.Status(input.Status),
			Label:     domain.Label(input.Label),
			Scheduled: input.Scheduled,
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedMissions `json:"body"`
		}{Body: paginatedMissions{Items: mapMissions(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-missions",
		Method:      http.MethodDelete,
		Path:        "/missions",
		Summary:     "Delete every mission, keeping the ledger",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ClearResponse `json:"body"`
	}, error) {
		n, err := e.ClearMissions(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClearResponse `json:"body"`
		}{Body: ClearResponse{Deleted: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "active-mission",
		Method:      http.MethodGet,
		Path:        "/missions/active",
		Summary:     "Current active mission",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*missionBody, error) {
		m, err := e.ActiveMission(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &missionBody{Body: missionResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "generate-mission",
		Method:        http.MethodPost,
		Path:          "/missions/generate",
		Summary:       "Generate the next mission",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusConflict, http.StatusTooManyRequests, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Activate bool `query:"activate"`
	}) (*missionBody, error) {
		m, err := e.GenerateMission(ctx, input.Activate)
		if err != nil {
			return nil, handleError(err)
		}
		return &missionBody{Body: missionResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-mission",
		Method:      http.MethodGet,
		Path:        "/missions/{id}",
		Summary:     "Get mission",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *missionPath) (*missionBody, error) {
		m, err := e.GetMission(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &missionBody{Body: missionResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-mission",
		Method:      http.MethodPost,
		Path:        "/missions/{id}/transition",
		Summary:     "Change mission status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body TransitionRequest `json:"body"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		res, err := e.TransitionMission(ctx, input.ID, domain.Status(input.Body.Status), input.Body.CompletedAt)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: TransitionResponse{
			Mission:     missionResponse(res.Mission),
			Transaction: transactionPtr(res.Transaction),
			Gate:        res.Gate,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "schedule-mission",
		Method:      http.MethodPost,
		Path:        "/missions/{id}/schedule",
		Summary:     "Schedule mission",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body ScheduleRequest `json:"body"`
	}) (*missionBody, error) {
		m, err := e.ScheduleMission(ctx, input.ID, input.Body.ScheduledAt, input.Body.Visible)
		if err != nil {
			return nil, handleError(err)
		}
		return &missionBody{Body: missionResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-mission-visibility",
		Method:      http.MethodPost,
		Path:        "/missions/{id}/visibility",
		Summary:     "Reveal (paid) or hide a mission",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body VisibilityRequest `json:"body"`
	}) (*struct {
		Body VisibilityResponse `json:"body"`
	}, error) {
		res, err := e.SetVisibility(ctx, input.ID, input.Body.Visible)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VisibilityResponse `json:"body"`
		}{Body: VisibilityResponse{Mission: missionResponse(res.Mission), Charged: res.Charged.String()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-feedback",
		Method:        http.MethodPost,
		Path:          "/missions/{id}/feedback",
		Summary:       "Rate a completed mission",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body FeedbackRequest `json:"body"`
	}) (*struct {
		Body FeedbackResponse `json:"body"`
	}, error) {
		f, err := e.RecordFeedback(ctx, input.ID, input.Body.Rating, stringOrEmpty(input.Body.Comment))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FeedbackResponse `json:"body"`
		}{Body: *feedbackResponse(f)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "settle-mission",
		Method:      http.MethodPost,
		Path:        "/missions/{id}/settle",
		Summary:     "Apply a missing reward or penalty",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *missionPath) (*struct {
		Body SettleResponse `json:"body"`
	}, error) {
		res, err := e.SettleMission(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SettleResponse `json:"body"`
		}{Body: SettleResponse{
			Mission:     missionResponse(res.Mission),
			Applied:     res.Applied,
			Transaction: transactionPtr(res.Transaction),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "label-stats",
		Method:      http.MethodGet,
		Path:        "/stats/labels",
		Summary:     "Per-label mission statistics",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body labelStats `json:"body"`
	}, error) {
		stats, err := e.LabelStats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body labelStats `json:"body"`
		}{Body: labelStats{Items: stats}}, nil
	})
}
