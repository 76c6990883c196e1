package scheduling

import (
	"context"
	"strings"

	"github.com/warp/lesson-engine/core"
)

type CreateTermRequest struct {
	SchoolID  core.SchoolID
	Name      string
	StartDate string // YYYY-MM-DD
	EndDate   string // YYYY-MM-DD, inclusive
}

// CreateTerm registers a term. Hybrid week numbers count from its start date.
func (s *Scheduler) CreateTerm(ctx context.Context, req CreateTermRequest) (*core.Term, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, core.Invalid("name", "name is required")
	}
	start, err := core.ParseDate(req.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := core.ParseDate(req.EndDate)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, core.Invalid("end_date", "term ends %s before it starts %s", req.EndDate, req.StartDate)
	}

	term := core.Term{
		ID:        core.TermID(core.NewID("trm")),
		SchoolID:  req.SchoolID,
		Name:      strings.TrimSpace(req.Name),
		StartDate: start,
		EndDate:   end,
	}
	if err := s.Store.SaveTerm(ctx, term); err != nil {
		return nil, err
	}
	s.log().Info("term created", "term_id", term.ID, "weeks", term.Weeks())
	return &term, nil
}

func (s *Scheduler) GetTerm(ctx context.Context, id core.TermID) (*core.Term, error) {
	return s.Store.GetTerm(ctx, id)
}
