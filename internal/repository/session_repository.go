package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"gorm.io/gorm"

	"towerloc/internal/models"
	"towerloc/internal/tower"
)

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// SaveSession inserts the session and its tower readings in one transaction.
func (r *SessionRepository) SaveSession(ctx context.Context, s tower.Session) error {
	row := toModel(s)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("saving session %s: %w", s.ID, err)
	}
	return nil
}

// Recent returns the latest sessions with their readings, newest first.
func (r *SessionRepository) Recent(ctx context.Context, limit int) ([]tower.Session, error) {
	var rows []models.TriangulationSession
	err := r.db.WithContext(ctx).
		Preload("Towers").
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("loading recent sessions: %w", err)
	}
	sessions := make([]tower.Session, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, fromModel(row))
	}
	return sessions, nil
}

func toModel(s tower.Session) models.TriangulationSession {
	res := s.Result
	row := models.TriangulationSession{
		ID:               s.ID,
		Source:           s.Source,
		Method:           tower.SessionMethod,
		EstimationMethod: res.Method,
		Latitude:         res.Latitude,
		Longitude:        res.Longitude,
		AccuracyMeters:   res.AccuracyMeters,
		TowersUsed:       res.TowersUsed,
		Confidence:       res.Confidence,
		ProcessingTimeMs: s.ProcessingTime.Milliseconds(),
		CreatedAt:        s.CreatedAt,
		Towers:           make([]models.CellTowerReading, 0, len(res.Towers)),
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if s.UserID != "" {
		user := s.UserID
		row.UserID = &user
	}
	for _, o := range res.Towers {
		row.Towers = append(row.Towers, models.CellTowerReading{
			ID:             uuid.New(),
			SessionID:      row.ID,
			MCC:            o.Identifier.CountryCode,
			MNC:            o.Identifier.NetworkCode,
			LAC:            o.Identifier.AreaCode,
			CellID:         o.Identifier.CellID,
			Operator:       o.Operator,
			Technology:     o.Technology,
			Latitude:       o.Latitude(),
			Longitude:      o.Longitude(),
			RSSI:           o.SignalStrengthDBm,
			BandMHz:        o.BandMHz,
			DistanceMeters: o.EstimatedDistanceM,
		})
	}
	return row
}

func fromModel(row models.TriangulationSession) tower.Session {
	s := tower.Session{
		ID:     row.ID,
		Source: row.Source,
		Result: tower.Result{
			Latitude:       row.Latitude,
			Longitude:      row.Longitude,
			AccuracyMeters: row.AccuracyMeters,
			TowersUsed:     row.TowersUsed,
			Confidence:     row.Confidence,
			Method:         row.EstimationMethod,
			Timestamp:      row.CreatedAt,
			Towers:         make([]tower.Observation, 0, len(row.Towers)),
		},
		ProcessingTime: time.Duration(row.ProcessingTimeMs) * time.Millisecond,
		CreatedAt:      row.CreatedAt,
	}
	if row.UserID != nil {
		s.UserID = *row.UserID
	}
	for _, tw := range row.Towers {
		s.Result.Towers = append(s.Result.Towers, tower.Observation{
			Identifier:         tower.NormalizeIdentifier(tw.MCC, tw.MNC, tw.LAC, tw.CellID),
			Operator:           tw.Operator,
			Technology:         tw.Technology,
			Location:           orb.Point{tw.Longitude, tw.Latitude},
			SignalStrengthDBm:  tw.RSSI,
			BandMHz:            tw.BandMHz,
			EstimatedDistanceM: tw.DistanceMeters,
		})
	}
	return s
}
