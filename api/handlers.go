package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"cortex/manager"
	"cortex/task"
	"cortex/worker"
)

type addJobRequest struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type updateJobRequest struct {
	State   task.State `json:"state"`
	Message string     `json:"message,omitempty"`
}

func (s *Server) AddJobHandler(w http.ResponseWriter, r *http.Request) {
	d := json.NewDecoder(r.Body)
	d.DisallowUnknownFields()

	req := addJobRequest{}
	if err := d.Decode(&req); err != nil {
		msg := fmt.Sprintf("Error unmarshalling body: %v", err)
		s.logger.Debug(msg)
		s.writeError(w, http.StatusBadRequest, msg)
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "job name is required")
		return
	}

	j := s.Manager.AddJob(req.Name, req.Payload)
	s.logger.Infow("Added job", zap.String("job", j.ID.String()), zap.String("name", j.Name))
	s.writeJSON(w, http.StatusCreated, j)
}

func (s *Server) GetJobsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Manager.GetJobs())
}

func (s *Server) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}

	j, err := s.Manager.GetJob(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, j)
}

func (s *Server) UpdateJobHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}

	req := updateJobRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Error unmarshalling body: %v", err))
		return
	}

	j, err := s.Manager.UpdateJob(id, req.State, req.Message)
	switch {
	case errors.Is(err, manager.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, manager.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.writeJSON(w, http.StatusOK, j)
	}
}

func (s *Server) jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid job id %q", raw))
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) GetWorkersHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Workers.List())
}

func (s *Server) HeartbeatHandler(w http.ResponseWriter, r *http.Request) {
	wk, added := s.Workers.Heartbeat(mux.Vars(r)["name"])
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, wk)
}

func (s *Server) RemoveWorkerHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.Workers.Remove(name); err != nil {
		if errors.Is(err, worker.ErrWorkerNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.Manager.ReleaseWorker(name)
	w.WriteHeader(http.StatusNoContent)
}

// NextJobHandler counts as a heartbeat of the asking worker.
func (s *Server) NextJobHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	s.Workers.Heartbeat(name)

	j, err := s.Manager.NextJob(name)
	if errors.Is(err, manager.ErrNoWork) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, j)
}

func (s *Server) ProvisionHandler(w http.ResponseWriter, r *http.Request) {
	s.Balancer.TriggerProvision()
	w.WriteHeader(http.StatusAccepted)
}

type statusResponse struct {
	RunningWorkers int64       `json:"running_workers"`
	QueuedJobs     int64       `json:"queued_jobs"`
	LastCycle      *cycleState `json:"last_cycle,omitempty"`
}

type cycleState struct {
	At       time.Time `json:"at"`
	Paused   bool      `json:"paused"`
	Score    int       `json:"score"`
	Fallback bool      `json:"fallback,omitempty"`
	Action   string    `json:"action"`
	Count    int       `json:"count"`
	Error    string    `json:"error,omitempty"`
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	load := s.Counters.Snapshot()
	resp := statusResponse{
		RunningWorkers: load.RunningWorkers,
		QueuedJobs:     load.QueuedJobs,
	}

	if st := s.Balancer.LastStatus(); st != nil {
		out := st.Outcome
		c := &cycleState{
			At:       st.At,
			Paused:   out.Paused,
			Score:    out.Score.Value,
			Fallback: out.Score.Fallback,
			Action:   out.Command.Action.String(),
			Count:    out.Command.Count,
		}
		if out.Err != nil {
			c.Error = out.Err.Error()
		}
		resp.LastCycle = c
	}
	s.writeJSON(w, http.StatusOK, resp)
}
