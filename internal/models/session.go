package models

import (
	"time"

	"github.com/google/uuid"
)

// TriangulationSession stores one successful locate attempt.
type TriangulationSession struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID           *string   `gorm:"index"`
	Source           string    `gorm:"size:32;not null"`
	Method           string    `gorm:"size:50;not null"`
	EstimationMethod string    `gorm:"size:50;not null"`
	Latitude         float64   `gorm:"not null"`
	Longitude        float64   `gorm:"not null"`
	AccuracyMeters   float64   `gorm:"not null"`
	TowersUsed       int
	Confidence       float64
	ProcessingTimeMs int64
	CreatedAt        time.Time          `gorm:"index;not null"`
	Towers           []CellTowerReading `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

func (TriangulationSession) TableName() string {
	return "triangulation_sessions"
}

// CellTowerReading stores one tower that contributed to a session.
type CellTowerReading struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	SessionID      uuid.UUID `gorm:"type:uuid;index;not null"`
	MCC            string    `gorm:"size:3;not null"`
	MNC            string    `gorm:"size:3;not null"`
	LAC            string    `gorm:"size:20;not null"`
	CellID         string    `gorm:"size:20;not null"`
	Operator       string    `gorm:"size:50"`
	Technology     string    `gorm:"size:16"`
	Latitude       float64   `gorm:"not null"`
	Longitude      float64   `gorm:"not null"`
	RSSI           int       `gorm:"not null"`
	BandMHz        int
	DistanceMeters float64 `gorm:"not null"`
}

func (CellTowerReading) TableName() string {
	return "cell_tower_readings"
}
