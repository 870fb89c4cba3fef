package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates at least one failing component.
	Degraded Status = "degraded"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Check names reported in Report.Checks.
const (
	CheckVectorStore = "vector_store"
	CheckEmbedding   = "embedding"
	CheckCache       = "cache"
)

// Service coordinates health checks.
type Service struct {
	store     Pinger
	embedding EmbeddingChecker
	cache     Pinger
}

// New creates a Service. embedding and cache can be nil.
func New(store Pinger, embedding EmbeddingChecker, cache Pinger) *Service {
	return &Service{store: store, embedding: embedding, cache: cache}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	checks[CheckVectorStore] = result(s.store.Ping(ctx))

	if s.embedding != nil {
		checks[CheckEmbedding] = result(s.embedding.HealthCheck(ctx))
	}
	if s.cache != nil {
		checks[CheckCache] = result(s.cache.Ping(ctx))
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}

	return Report{Status: status, Checks: checks}
}

func result(err error) CheckResult {
	if err != nil {
		return CheckError
	}
	return CheckOK
}
