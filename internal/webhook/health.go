package webhook

import "github.com/parleyhq/parley/internal/config"

// HealthScorer grades a webhook from the outcome ratio of its most recent
// deliveries. Test deliveries are excluded from the denominator unless
// explicitly opted in.
type HealthScorer struct {
	window      int
	warning     float64
	critical    float64
	includeTest bool
}

func NewHealthScorer(cfg config.WebhookConfig) *HealthScorer {
	window := cfg.HealthWindow
	if window <= 0 {
		window = config.DefaultWebhookHealthWindow
	}
	warning := cfg.HealthWarning
	if warning <= 0 {
		warning = config.DefaultWebhookHealthWarning
	}
	critical := cfg.HealthCritical
	if critical <= 0 {
		critical = config.DefaultWebhookHealthCritical
	}
	return &HealthScorer{
		window:      window,
		warning:     warning,
		critical:    critical,
		includeTest: cfg.HealthIncludeTest,
	}
}

// Window is how many recent deliveries the score considers.
func (h *HealthScorer) Window() int {
	return h.window
}

// Score grades the given deliveries, newest first. A webhook with no scored
// deliveries is healthy. Pending and retrying rows are still in flight and
// do not count either way.
func (h *HealthScorer) Score(deliveries []Delivery) Health {
	var total, succeeded int
	for _, d := range deliveries {
		if d.Test && !h.includeTest {
			continue
		}
		switch d.Status {
		case DeliverySuccess:
			total++
			succeeded++
		case DeliveryFailed:
			total++
		}
	}

	if total == 0 {
		return HealthHealthy
	}

	ratio := float64(succeeded) / float64(total)
	switch {
	case ratio >= h.warning:
		return HealthHealthy
	case ratio >= h.critical:
		return HealthWarning
	default:
		return HealthCritical
	}
}
