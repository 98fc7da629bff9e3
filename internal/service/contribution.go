package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/mentorlink/session-server/internal/errors"
)

// DayContribution is one cell of a mentor's contribution graph.
type DayContribution struct {
	Date          string   `json:"date"`
	Count         int      `json:"count"`
	TotalDuration int      `json:"totalDuration"`
	SessionIDs    []string `json:"sessionIds"`
}

type ContributionGraph struct {
	MentorID               string            `json:"mentorId"`
	Year                   int               `json:"year"`
	TotalCompletedSessions int               `json:"totalCompletedSessions"`
	Dates                  []DayContribution `json:"dates"`
}

// CompletedByDate groups a mentor's completed sessions of one year by their
// session date. A zero year means the current year in the default zone.
func (s *SessionService) CompletedByDate(ctx context.Context, mentorID string, year int) (*ContributionGraph, error) {
	if mentorID == "" {
		return nil, apperrors.MissingRequired("mentorId")
	}
	if year == 0 {
		year = s.clock.Now().In(s.loc).Year()
	}
	if year < 1 || year > 9999 {
		return nil, apperrors.InvalidInput("year", "must be between 1 and 9999")
	}

	completed, err := s.repo.FindCompletedByMentor(ctx, mentorID)
	if err != nil {
		return nil, fmt.Errorf("find completed sessions: %w", err)
	}

	prefix := fmt.Sprintf("%04d-", year)
	byDate := make(map[string]*DayContribution)
	total := 0
	for i := range completed {
		session := &completed[i]
		if !strings.HasPrefix(session.SessionDate, prefix) {
			continue
		}
		day, ok := byDate[session.SessionDate]
		if !ok {
			day = &DayContribution{Date: session.SessionDate}
			byDate[session.SessionDate] = day
		}
		day.Count++
		day.TotalDuration += session.Duration
		day.SessionIDs = append(day.SessionIDs, session.ID)
		total++
	}

	dates := make([]DayContribution, 0, len(byDate))
	for _, day := range byDate {
		dates = append(dates, *day)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Date < dates[j].Date })

	return &ContributionGraph{
		MentorID:               mentorID,
		Year:                   year,
		TotalCompletedSessions: total,
		Dates:                  dates,
	}, nil
}

// ParseYear reads an optional year query value; empty means zero.
func ParseYear(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	year, err := strconv.Atoi(raw)
	if err != nil || year < 1 || year > 9999 {
		return 0, apperrors.InvalidInput("year", "must be a four digit year")
	}
	return year, nil
}
