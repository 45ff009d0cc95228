package common

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

const (
	ResultTypeJob = "job"
)

// JobAttrs carries the execution payload of a job
type JobAttrs struct {
	UUID         string            `json:"uuid"`
	ProcessGraph json.RawMessage   `json:"process_graph"`
	EngineConfig map[string]string `json:"engine_config,omitempty"`
	OutputPath   string            `json:"output_path"`
	CreatedAt    time.Time         `json:"created_at"`
}

type Job struct {
	ID       int      `json:"id"`
	SourceID string   `json:"source_id"`
	Data     JobAttrs `json:"data,omitempty"`
}

// JobToIngest is the payload of a job creation request
type JobToIngest struct {
	SourceID string   `json:"source_id"`
	Data     JobAttrs `json:"data"`
}

type Result struct {
	Type    string `json:"type"` // job (ResultTypeJob)
	ID      int    `json:"id"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// Value implements the driver.Value interface
func (a JobAttrs) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements the sql.Scanner interface.
func (a *JobAttrs) Scan(value interface{}) error {
	if value == nil {
		*a = JobAttrs{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, &a)
}
