package models

import (
	"time"

	"github.com/google/uuid"
)

// ContentHash is the hex digest of a normalized reading text. It is the cache key.
type ContentHash string

// CacheEntry is one row of the audio directory.
// Path is the artifact file name relative to the audio directory.
type CacheEntry struct {
	Hash ContentHash `json:"hash"`
	Path string      `json:"path"`
	Text string      `json:"text"`
}

// Reading is a (literal, text) pair supplied by the dictionary side.
// Literal is the kanji itself; Text is the kana reading that gets spoken.
type Reading struct {
	Literal string `json:"literal"`
	Text    string `json:"text"`
	RType   string `json:"r_type,omitempty"` // "ja_on" or "ja_kun"
}

// Enums
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// BatchStatus is the progress record of one bulk generation job.
// Resolved counts successful readings, Cached the subset that needed no synthesis.
type BatchStatus struct {
	ID        uuid.UUID `json:"id"`
	Status    JobStatus `json:"status"`
	Total     int       `json:"total"`
	Resolved  int       `json:"resolved"`
	Cached    int       `json:"cached"`
	Failed    int       `json:"failed"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// API request/response types

type GenerateAudioRequest struct {
	Literal string `json:"literal"`
	Text    string `json:"text"`
}

type AudioResponse struct {
	Literal string      `json:"literal,omitempty"`
	Hash    ContentHash `json:"hash"`
	Path    string      `json:"path"`
	URL     string      `json:"url"`
	Text    string      `json:"text"`
	Cached  bool        `json:"cached"`
}

type ListAudioResponse struct {
	Entries []AudioResponse `json:"entries"`
	Total   int             `json:"total"`
}

type CreateBatchRequest struct {
	Readings []Reading `json:"readings"`
}

type CreateBatchResponse struct {
	BatchID uuid.UUID `json:"batch_id"`
	Status  JobStatus `json:"status"`
	Total   int       `json:"total"`
}
