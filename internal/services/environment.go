package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	executions "cloud.google.com/go/workflows/executions/apiv1"

	"github.com/Lllllllleong/ecommpipeline/internal/gcp"
	"github.com/Lllllllleong/ecommpipeline/internal/pipeline"
	"github.com/Lllllllleong/ecommpipeline/internal/wizard"
)

const (
	sessionStoreFirestore = "firestore"
	sessionStoreMemory    = "memory"
)

// processSessions backs every function registered in this process when
// SESSION_STORE=memory.
var processSessions = NewMemorySessions()

// WizardEnvConfig is the configuration every wizard function shares.
type WizardEnvConfig struct {
	ProjectID          string
	SessionStore       string
	DatabaseID         string
	CollectionName     string
	SchemaServiceURL   string
	PipelineServiceURL string
	PipelineWorkflowID string
	WorkflowLocation   string
	VertexAIRegion     string
	AdvisorModel       string
	MappingAdvice      bool
	Client             pipeline.ClientConfig
	Wizard             wizard.Config
}

// LoadWizardEnvConfig reads the shared configuration from the environment.
func LoadWizardEnvConfig() (WizardEnvConfig, error) {
	config := WizardEnvConfig{
		ProjectID:          gcp.GetEnv("PROJECT_ID", ""),
		SessionStore:       gcp.GetEnv("SESSION_STORE", sessionStoreFirestore),
		DatabaseID:         gcp.GetEnv("FIRESTORE_DATABASE", ""),
		CollectionName:     gcp.GetEnv("FIRESTORE_COLLECTION", "wizardSessions"),
		SchemaServiceURL:   gcp.GetEnv("SCHEMA_SERVICE_URL", ""),
		PipelineServiceURL: gcp.GetEnv("PIPELINE_SERVICE_URL", ""),
		PipelineWorkflowID: gcp.GetEnv("PIPELINE_WORKFLOW_ID", ""),
		WorkflowLocation:   gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		VertexAIRegion:     gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		AdvisorModel:       gcp.GetEnv("MAPPING_ADVICE_MODEL", "gemini-1.5-pro"),
		Wizard:             wizard.DefaultConfig(),
	}
	if config.SessionStore != sessionStoreFirestore && config.SessionStore != sessionStoreMemory {
		return WizardEnvConfig{}, fmt.Errorf("SESSION_STORE must be %q or %q, got %q", sessionStoreFirestore, sessionStoreMemory, config.SessionStore)
	}
	if config.SchemaServiceURL == "" {
		return WizardEnvConfig{}, fmt.Errorf("SCHEMA_SERVICE_URL environment variable must be set")
	}
	if config.PipelineServiceURL == "" && config.PipelineWorkflowID == "" {
		return WizardEnvConfig{}, fmt.Errorf("PIPELINE_SERVICE_URL or PIPELINE_WORKFLOW_ID must be set")
	}

	var err error
	if config.Client.Timeout, err = gcp.GetEnvDuration("HTTP_TIMEOUT", 0); err != nil {
		return WizardEnvConfig{}, err
	}
	// No one is watching the upload result on the server, so no delay by default.
	if config.Wizard.TransitionDelay, err = gcp.GetEnvDuration("UPLOAD_TRANSITION_DELAY", 0); err != nil {
		return WizardEnvConfig{}, err
	}
	if config.MappingAdvice, err = gcp.GetEnvBool("MAPPING_ADVICE_ENABLED", false); err != nil {
		return WizardEnvConfig{}, err
	}
	if config.ProjectID == "" && (config.SessionStore == sessionStoreFirestore || config.PipelineWorkflowID != "" || config.MappingAdvice) {
		return WizardEnvConfig{}, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	extensions := gcp.GetEnvList("ALLOWED_EXTENSIONS", config.Wizard.AllowedExtensions)
	config.Wizard.AllowedExtensions = make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		config.Wizard.AllowedExtensions = append(config.Wizard.AllowedExtensions, ext)
	}

	config.Client.SchemaServiceURL = config.SchemaServiceURL
	config.Client.PipelineServiceURL = config.PipelineServiceURL
	return config, nil
}

func newSessionRepository(ctx context.Context, config WizardEnvConfig) (SessionRepository, error) {
	if config.SessionStore == sessionStoreMemory {
		slog.Warn("Sessions are kept in process memory and are lost on restart.")
		return processSessions, nil
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID, config.DatabaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return NewFirestoreSessions(firestoreClient, config.CollectionName), nil
}

// newBackends builds the wizard collaborators from the environment. The
// advisor is only created when withAdvisor is set and advice is enabled.
func newBackends(ctx context.Context, config WizardEnvConfig, withAdvisor bool) (WizardBackends, error) {
	inferrer, creator, err := newRemoteServices(ctx, config)
	if err != nil {
		return WizardBackends{}, err
	}
	backends := WizardBackends{Inferrer: inferrer, Creator: creator, Config: config.Wizard}
	if withAdvisor && config.MappingAdvice {
		vertexClient, err := gcp.NewVertexClient(ctx, config.ProjectID, config.VertexAIRegion, config.AdvisorModel)
		if err != nil {
			return WizardBackends{}, fmt.Errorf("failed to create vertex client: %w", err)
		}
		backends.Advisor = vertexClient
	}
	return backends, nil
}

// newRemoteServices builds the schema inferrer and the pipeline creator. When
// a workflow is configured pipelines are created by a Workflows execution
// instead of the pipeline service.
func newRemoteServices(ctx context.Context, config WizardEnvConfig) (wizard.SchemaInferrer, wizard.PipelineCreator, error) {
	clientConfig := config.Client
	if clientConfig.PipelineServiceURL == "" {
		// The HTTP client still needs a well-formed pipeline URL even though it will not be used.
		clientConfig.PipelineServiceURL = clientConfig.SchemaServiceURL
	}
	httpClient, err := pipeline.NewClient(clientConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pipeline service client: %w", err)
	}
	if config.PipelineWorkflowID == "" {
		return httpClient, httpClient, nil
	}

	executionsClient, err := executions.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	launcher := pipeline.NewWorkflowLauncher(executionsClient, config.ProjectID, config.WorkflowLocation, config.PipelineWorkflowID)
	slog.Info("Pipelines will be created through Cloud Workflows.", "workflowId", config.PipelineWorkflowID)
	return httpClient, launcher, nil
}
