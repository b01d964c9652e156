package grafana

// TreatmentTag is attached to every annotation painlog creates.
const TreatmentTag = "treatment"

// Annotation is the request body for POST /api/annotations.
// DashboardUID and PanelID are omitted when not configured, which creates
// an organization-wide annotation.
type Annotation struct {
	DashboardUID string   `json:"dashboardUID,omitempty"`
	PanelID      int      `json:"panelId,omitempty"`
	Time         int64    `json:"time"`
	Text         string   `json:"text"`
	Tags         []string `json:"tags"`
}

// AnnotationResponse is returned by Grafana on success.
type AnnotationResponse struct {
	Message string `json:"message"`
	ID      int    `json:"id"`
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Database string `json:"database"`
	Version  string `json:"version"`
}
