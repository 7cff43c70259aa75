package api

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"facture-fec/internal/services"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusComplete   = "complete"
	JobStatusFailed     = "failed"
)

// jobRetention is how long finished jobs stay pollable.
const jobRetention = time.Hour

// ConversionJob tracks one asynchronous conversion that the frontend polls.
type ConversionJob struct {
	ID        string                  `json:"jobId"`
	Status    string                  `json:"status"`
	FileName  string                  `json:"fileName"`
	Mode      string                  `json:"mode"`
	Step      string                  `json:"step,omitempty"`
	Message   string                  `json:"message,omitempty"`
	Current   int                     `json:"current"`
	Total     int                     `json:"total"`
	Percent   int                     `json:"percent"`
	Result    *services.ConvertResult `json:"result,omitempty"`
	Error     string                  `json:"error,omitempty"`
	Code      string                  `json:"code,omitempty"`
	CreatedAt time.Time               `json:"createdAt"`
	UpdatedAt time.Time               `json:"updatedAt"`
}

type JobManager struct {
	mu   sync.RWMutex
	jobs map[string]*ConversionJob
	now  func() time.Time
}

func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*ConversionJob),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (m *JobManager) CreateJob(fileName, mode string) (string, *ConversionJob) {
	now := m.now()
	job := &ConversionJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		FileName:  fileName,
		Mode:      mode,
		Message:   "Traitement de " + fileName + " ⌛",
		Total:     100,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.pruneLocked(now)
	m.jobs[job.ID] = job
	m.mu.Unlock()

	return job.ID, job.clone()
}

func (m *JobManager) GetJob(id string) (*ConversionJob, bool) {
	m.mu.RLock()
	job, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return job.clone(), true
}

func (m *JobManager) MarkProcessing(id string) {
	m.withJob(id, func(job *ConversionJob) {
		job.Status = JobStatusProcessing
	})
}

func (m *JobManager) UpdateProgress(id, step, message string, current, total int) {
	m.withJob(id, func(job *ConversionJob) {
		job.Status = JobStatusProcessing
		job.Step = step
		job.Message = message
		job.Current = current
		job.Total = total
		job.Percent = percent(current, total)
	})
}

func (m *JobManager) MarkComplete(id string, result *services.ConvertResult) {
	m.withJob(id, func(job *ConversionJob) {
		job.Status = JobStatusComplete
		job.Step = "complete"
		job.Message = "✅ Conversion terminée avec succès !"
		job.Current = 100
		job.Total = 100
		job.Percent = 100
		job.Result = result
		job.Error = ""
	})
}

func (m *JobManager) MarkFailed(id, message, code string) {
	msg := strings.TrimSpace(message)
	if msg == "" {
		msg = "processing error"
	}
	m.withJob(id, func(job *ConversionJob) {
		job.Status = JobStatusFailed
		job.Step = "error"
		job.Message = msg
		job.Error = msg
		job.Code = code
		job.Percent = 100
	})
}

func (m *JobManager) withJob(id string, fn func(job *ConversionJob)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return
	}
	fn(job)
	job.UpdatedAt = m.now()
}

// pruneLocked drops finished jobs older than jobRetention.
func (m *JobManager) pruneLocked(now time.Time) {
	for id, job := range m.jobs {
		finished := job.Status == JobStatusComplete || job.Status == JobStatusFailed
		if finished && now.Sub(job.UpdatedAt) > jobRetention {
			delete(m.jobs, id)
		}
	}
}

func (job *ConversionJob) clone() *ConversionJob {
	if job == nil {
		return nil
	}
	copyJob := *job
	return &copyJob
}

func percent(current, total int) int {
	if total <= 0 {
		if current <= 0 {
			return 0
		}
		if current > 100 {
			return 100
		}
		return current
	}
	if current <= 0 {
		return 0
	}
	if current >= total {
		return 100
	}
	return int((float64(current) / float64(total)) * 100)
}
