package verifyapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/veriflow/evidence"
	"github.com/c360studio/veriflow/storage"
	"github.com/c360studio/veriflow/verify"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxRequestBodySize limits POST body sizes to prevent DoS.
const maxRequestBodySize = 1 << 20 // 1 MB

// unitDirectory is the unit store surface the handlers need.
type unitDirectory interface {
	Get(ctx context.Context, id string) (*verify.Unit, error)
	List(ctx context.Context) ([]*verify.Unit, error)
	GetSummary(ctx context.Context) (*verify.RunCompletedEvent, error)
}

// challengeDirectory is the challenge store surface the handlers need.
type challengeDirectory interface {
	Get(ctx context.Context, id string) (*verify.Challenge, error)
	List(ctx context.Context, status verify.ChallengeStatus) ([]*verify.Challenge, error)
}

// commitSource reads the full commit log for replay.
type commitSource interface {
	Load(ctx context.Context) ([]verify.CommitRecord, error)
}

// streamPublisher publishes raw payloads onto the stream. The NATS
// client satisfies it; tests substitute a recorder.
type streamPublisher interface {
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// pageArchiver captures url evidence as markdown at raise time.
type pageArchiver interface {
	Capture(ctx context.Context, rawURL string) (*evidence.Snapshot, error)
}

// RegisterHTTPHandlers registers all verify-api HTTP handlers under the
// given prefix. The prefix should be the path segment without a trailing
// slash (e.g. "api/verify"). Handlers are registered as:
//
//	GET  <prefix>/units
//	GET  <prefix>/units/{id}
//	GET  <prefix>/units/{id}/history
//	GET  <prefix>/challenges
//	POST <prefix>/challenges
//	POST <prefix>/challenges/{id}/resolve
//	GET  <prefix>/commits
//	GET  <prefix>/summary
//	GET  <prefix>/healthz
//	GET  <prefix>/metrics
//
// The review queue API is mounted under <prefix>/review.
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")

	mux.HandleFunc("GET "+prefix+"/units", c.handleListUnits)
	mux.HandleFunc("GET "+prefix+"/units/{id}", c.handleGetUnit)
	mux.HandleFunc("GET "+prefix+"/units/{id}/history", c.handleUnitHistory)
	mux.HandleFunc("GET "+prefix+"/challenges", c.handleListChallenges)
	mux.HandleFunc("POST "+prefix+"/challenges", c.handleRaiseChallenge)
	mux.HandleFunc("GET "+prefix+"/challenges/{id}", c.handleGetChallenge)
	mux.HandleFunc("POST "+prefix+"/challenges/{id}/resolve", c.handleResolveChallenge)
	mux.HandleFunc("GET "+prefix+"/commits", c.handleCommits)
	mux.HandleFunc("GET "+prefix+"/summary", c.handleSummary)
	mux.HandleFunc("GET "+prefix+"/healthz", c.handleHealthz)
	mux.Handle("GET "+prefix+"/metrics",
		promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	c.reviewHandler.RegisterHTTPHandlers(prefix+"/review", mux)
}

// ----------------------------------------------------------------------------
// Units
// ----------------------------------------------------------------------------

// ListUnitsResponse is the response for GET /units.
type ListUnitsResponse struct {
	Units []*verify.Unit `json:"units"`
	Total int            `json:"total"`
}

func (c *Component) handleListUnits(w http.ResponseWriter, r *http.Request) {
	units := c.unitStore()
	if units == nil {
		c.writeError(w, http.StatusServiceUnavailable, "component not started")
		return
	}

	list, err := units.List(r.Context())
	if err != nil {
		c.logger.Error("Failed to list units", "error", err)
		c.writeError(w, http.StatusInternalServerError, "failed to list units")
		return
	}

	// Filter by level when requested.
	if levelParam := r.URL.Query().Get("level"); levelParam != "" {
		level := verify.Level(levelParam)
		if !level.IsValid() {
			c.writeError(w, http.StatusBadRequest, "invalid level: "+levelParam)
			return
		}
		filtered := list[:0]
		for _, u := range list {
			if u.Level == level {
				filtered = append(filtered, u)
			}
		}
		list = filtered
	}

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	c.writeJSON(w, http.StatusOK, ListUnitsResponse{Units: list, Total: len(list)})
}

func (c *Component) handleGetUnit(w http.ResponseWriter, r *http.Request) {
	units := c.unitStore()
	if units == nil {
		c.writeError(w, http.StatusServiceUnavailable, "component not started")
		return
	}

	id := r.PathValue("id")
	unit, err := units.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.writeError(w, http.StatusNotFound, "unit not found")
			return
		}
		c.logger.Error("Failed to get unit", "id", id, "error", err)
		c.writeError(w, http.StatusInternalServerError, "failed to get unit")
		return
	}

	c.writeJSON(w, http.StatusOK, unit)
}

// UnitHistoryResponse is the response for GET /units/{id}/history.
type UnitHistoryResponse struct {
	UnitID  string                   `json:"unit_id"`
	Level   verify.Level             `json:"level"`
	History []verify.LevelTransition `json:"history"`
}

func (c *Component) handleUnitHistory(w http.ResponseWriter, r *http.Request) {
	units := c.unitStore()
	if units == nil {
		c.writeError(w, http.StatusServiceUnavailable, "component not started")
		return
	}

	id := r.PathValue("id")
	unit, err := units.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.writeError(w, http.StatusNotFound, "unit not found")
			return
		}
		c.logger.Error("Failed to get unit", "id", id, "error", err)
		c.writeError(w, http.StatusInternalServerError, "failed to get unit")
		return
	}

	c.writeJSON(w, http.StatusOK, UnitHistoryResponse{
		UnitID:  unit.ID,
		Level:   unit.Level,
		History: unit.LevelHistory,
	})
}

// ----------------------------------------------------------------------------
// Challenges
// ----------------------------------------------------------------------------

// ListChallengesResponse is the response for GET /challenges.
type ListChallengesResponse struct {
	Challenges []*verify.Challenge `json:"challenges"`
	Total      int                 `json:"total"`
}

func (c *Component) handleListChallenges(w http.ResponseWriter, r *http.Request) {
	challenges := c.challengeStore()
	if challenges == nil {
		c.writeError(w, http.StatusServiceUnavailable, "component not started")
		return
	}

	var status verify.ChallengeStatus
	if statusParam := r.URL.Query().Get("status"); statusParam != "" && statusParam != "all" {
		status = verify.ChallengeStatus(statusParam)
		if !status.IsValid() {
			c.writeError(w, http.StatusBadRequest, "invalid status: "+statusParam)
			return
		}
	}

	list, err := challenges.List(r.Context(), status)
	if err != nil {
		c.logger.Error("Failed to list challenges", "error", err)
		c.writeError(w, http.StatusInternalServerError, "failed to list challenges")
		return
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	c.writeJSON(w, http.StatusOK, ListChallengesResponse{Challenges: list, Total: len(list)})
}

func (c *Component) handleGetChallenge(w http.ResponseWriter, r *http.Request) {
	challenges := c.challengeStore()
	if challenges == nil {
		c.writeError(w, http.StatusServiceUnavailable, "component not started")
		return
	}

	id := r.PathValue("id")
	if !strings.HasPrefix(id, "ch-") {
		c.writeError(w, http.StatusBadRequest, "invalid challenge ID format (must start with 'ch-')")
		return
	}

	ch, err := challenges.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.writeError(w, http.StatusNotFound, "challenge not found")
			return
		}
		c.logger.Error("Failed to get challenge", "id", id, "error", err)
		c.writeError(w, http.StatusInternalServerError, "failed to get challenge")
		return
	}

	c.writeJSON(w, http.StatusOK, ch)
}

// RaiseChallengeRequest is the request body for POST /challenges.
type RaiseChallengeRequest struct {
	TargetUnit  string               `json:"target_unit"`
	Edge        string               `json:"edge,omitempty"`
	Severity    verify.Severity      `json:"severity"`
	Description string               `json:"description"`
	Evidence    []verify.EvidenceRef `json:"evidence,omitempty"`
}

// RaiseChallengeResponse is the 202 response for POST /challenges. The
// downgrade lands asynchronously; the id lets callers poll for it.
type RaiseChallengeResponse struct {
	ChallengeID string                 `json:"challenge_id"`
	Status      verify.ChallengeStatus `json:"status"`
}

func (c *Component) handleRaiseChallenge(w http.ResponseWriter, r *http.Request) {
	pub := c.streamPub()
	if pub == nil {
		c.writeError(w, http.StatusServiceUnavailable, "component not started")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req RaiseChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	raisedBy := r.Header.Get("X-User-ID")
	if raisedBy == "" {
		raisedBy = "anonymous"
	}

	ch := verify.NewChallenge(req.TargetUnit, raisedBy, req.Severity, req.Description)
	ch.Edge = req.Edge
	ch.Evidence = req.Evidence
	c.archiveURLEvidence(r.Context(), ch)

	payload := verify.ChallengeRaisePayload{Challenge: *ch}
	if err := payload.Validate(); err != nil {
		c.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := c.publishPayload(r.Context(), pub, verify.SubjectChallengeRaise,
		verify.ChallengeRaiseType, &payload); err != nil {
		c.logger.Error("Failed to publish challenge raise", "error", err)
		c.writeError(w, http.StatusInternalServerError, "failed to publish challenge")
		return
	}

	c.logger.Info("Challenge raise accepted",
		"challenge_id", ch.ID,
		"target_unit", ch.TargetUnit,
		"severity", ch.Severity,
	)

	c.writeJSON(w, http.StatusAccepted, RaiseChallengeResponse{
		ChallengeID: ch.ID,
		Status:      ch.Status,
	})
}

// archiveURLEvidence snapshots url evidence refs that arrive without one.
// Failures degrade to the bare url; the raise must not depend on the
// target page being reachable.
func (c *Component) archiveURLEvidence(ctx context.Context, ch *verify.Challenge) {
	archiver := c.archiver()
	if archiver == nil {
		return
	}
	for i, ref := range ch.Evidence {
		if ref.Kind != verify.EvidenceKindURL || ref.Snapshot != "" {
			continue
		}
		snap, err := archiver.Capture(ctx, ref.Target)
		if err != nil {
			c.logger.Warn("Evidence snapshot failed", "url", ref.Target, "error", err)
			continue
		}
		ch.Evidence[i].Snapshot = snap.Markdown
	}
}

// ResolveChallengeRequest is the request body for POST /challenges/{id}/resolve.
type ResolveChallengeRequest struct {
	Status     verify.ChallengeStatus `json:"status"`
	Resolution string                 `json:"resolution"`
}

// ResolveChallengeResponse is the 202 response for the resolve endpoint.
type ResolveChallengeResponse struct {
	ChallengeID string                 `json:"challenge_id"`
	Status      verify.ChallengeStatus `json:"status"`
}

func (c *Component) handleResolveChallenge(w http.ResponseWriter, r *http.Request) {
	pub := c.streamPub()
	if pub == nil {
		c.writeError(w, http.StatusServiceUnavailable, "component not started")
		return
	}

	id := r.PathValue("id")
	if !strings.HasPrefix(id, "ch-") {
		c.writeError(w, http.StatusBadRequest, "invalid challenge ID format (must start with 'ch-')")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req ResolveChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resolvedBy := r.Header.Get("X-User-ID")
	if resolvedBy == "" {
		resolvedBy = "anonymous"
	}

	payload := verify.ChallengeResolvePayload{
		ChallengeID: id,
		Status:      req.Status,
		Resolution:  req.Resolution,
		ResolvedBy:  resolvedBy,
	}
	if err := payload.Validate(); err != nil {
		c.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := c.publishPayload(r.Context(), pub, verify.SubjectChallengeResolve,
		verify.ChallengeResolveType, &payload); err != nil {
		c.logger.Error("Failed to publish challenge resolve", "error", err)
		c.writeError(w, http.StatusInternalServerError, "failed to publish resolution")
		return
	}

	c.logger.Info("Challenge resolution accepted",
		"challenge_id", id,
		"status", req.Status,
		"resolved_by", resolvedBy,
	)

	c.writeJSON(w, http.StatusAccepted, ResolveChallengeResponse{
		ChallengeID: id,
		Status:      req.Status,
	})
}

// ----------------------------------------------------------------------------
// Commits
// ----------------------------------------------------------------------------

// CommitsResponse is the response for GET /commits. StateAt is populated
// only when as_of is given: every committed unit's level replayed up to
// and including that sequence number.
type CommitsResponse struct {
	Records []verify.CommitRecord   `json:"records"`
	Total   int                     `json:"total"`
	AsOf    *uint64                 `json:"as_of,omitempty"`
	StateAt map[string]verify.Level `json:"state_at,omitempty"`
}

func (c *Component) handleCommits(w http.ResponseWriter, r *http.Request) {
	commits := c.commitSrc()
	if commits == nil {
		c.writeError(w, http.StatusServiceUnavailable, "component not started")
		return
	}

	records, err := commits.Load(r.Context())
	if err != nil {
		c.logger.Error("Failed to load commit log", "error", err)
		c.writeError(w, http.StatusInternalServerError, "failed to load commit log")
		return
	}

	resp := CommitsResponse{Records: records, Total: len(records)}

	if asOfParam := r.URL.Query().Get("as_of"); asOfParam != "" {
		asOf, err := strconv.ParseUint(asOfParam, 10, 64)
		if err != nil {
			c.writeError(w, http.StatusBadRequest, "invalid as_of: must be a sequence number")
			return
		}

		state := make(map[string]verify.Level)
		cut := 0
		for _, rec := range records {
			if rec.SequenceNo > asOf {
				break
			}
			state[rec.UnitID] = rec.ToLevel
			cut++
		}
		resp.Records = records[:cut]
		resp.Total = cut
		resp.AsOf = &asOf
		resp.StateAt = state
	}

	c.writeJSON(w, http.StatusOK, resp)
}

// ----------------------------------------------------------------------------
// Summary and health
// ----------------------------------------------------------------------------

func (c *Component) handleSummary(w http.ResponseWriter, r *http.Request) {
	units := c.unitStore()
	if units == nil {
		c.writeError(w, http.StatusServiceUnavailable, "component not started")
		return
	}

	summary, err := units.GetSummary(r.Context())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.writeError(w, http.StatusNotFound, "no completed run")
			return
		}
		c.logger.Error("Failed to load run summary", "error", err)
		c.writeError(w, http.StatusInternalServerError, "failed to load run summary")
		return
	}

	c.writeJSON(w, http.StatusOK, summary)
}

func (c *Component) handleHealthz(w http.ResponseWriter, r *http.Request) {
	health := c.Health()
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.writeJSON(w, status, health)
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

// publishPayload wraps a payload in the message envelope and publishes it.
func (c *Component) publishPayload(ctx context.Context, pub streamPublisher,
	subject string, msgType message.Type, payload message.Payload) error {
	baseMsg := message.NewBaseMessage(msgType, payload, c.name)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return err
	}
	return pub.PublishToStream(ctx, subject, data)
}

func (c *Component) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		c.logger.Warn("Failed to write JSON response", "error", err)
	}
}

func (c *Component) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
