package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// PipelineResponse — pipeline из API.
type PipelineResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Spec      map[string]any `json:"spec"`
	IsActive  bool           `json:"is_active"`
	CreatedAt string         `json:"created_at"`
}

// RunContextJSON — контекст запуска run из API.
type RunContextJSON struct {
	Pipeline  string            `json:"pipeline"`
	Branch    string            `json:"branch"`
	Event     string            `json:"event"`
	CommitSHA string            `json:"commit_sha,omitempty"`
	Actor     string            `json:"actor,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// RunResponse — run из API.
type RunResponse struct {
	ID         string         `json:"id"`
	PipelineID string         `json:"pipeline_id"`
	Context    RunContextJSON `json:"context"`
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
	StartedAt  string         `json:"started_at,omitempty"`
	FinishedAt string         `json:"finished_at,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

// ExecutionResponse — job execution из API.
type ExecutionResponse struct {
	ID         string   `json:"id"`
	RunID      string   `json:"run_id"`
	JobID      string   `json:"job_id"`
	Status     string   `json:"status"`
	Detail     string   `json:"detail,omitempty"`
	LogRef     string   `json:"log_ref,omitempty"`
	Produced   []string `json:"produced,omitempty"`
	StartedAt  string   `json:"started_at,omitempty"`
	FinishedAt string   `json:"finished_at,omitempty"`
	CreatedAt  string   `json:"created_at"`
}

// LedgerEntryResponse — запись журнала переходов из API.
type LedgerEntryResponse struct {
	ExecutionID string   `json:"execution_id"`
	JobID       string   `json:"job_id"`
	From        string   `json:"from"`
	To          string   `json:"to"`
	At          string   `json:"at"`
	Detail      string   `json:"detail,omitempty"`
	Artifacts   []string `json:"artifacts,omitempty"`
}

// ApprovalResponse — запись approval из API.
type ApprovalResponse struct {
	ID          string `json:"id"`
	RunID       string `json:"run_id"`
	ExecutionID string `json:"execution_id"`
	Approver    string `json:"approver"`
	Approved    bool   `json:"approved"`
	Reason      string `json:"reason,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// ArtifactResponse — метаданные артефакта из API.
type ArtifactResponse struct {
	RunID       string `json:"run_id"`
	ExecutionID string `json:"execution_id"`
	Name        string `json:"name"`
	Ref         string `json:"ref"`
	Size        int64  `json:"size"`
	CreatedAt   string `json:"created_at"`
}

// ScheduleResponse — schedule из API.
type ScheduleResponse struct {
	ID         string `json:"id"`
	PipelineID string `json:"pipeline_id"`
	CronExpr   string `json:"cron_expr"`
	Branch     string `json:"branch"`
	Enabled    bool   `json:"enabled"`
	NextDueAt  string `json:"next_due_at,omitempty"`
	LastRunAt  string `json:"last_run_at,omitempty"`
	LastRunID  string `json:"last_run_id,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// --- Request types ---

// TriggerRunRequest — запуск run.
type TriggerRunRequest struct {
	Branch    string            `json:"branch"`
	Event     string            `json:"event,omitempty"`
	CommitSHA string            `json:"commit_sha,omitempty"`
	Actor     string            `json:"actor,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// CancelRunRequest — отмена run.
type CancelRunRequest struct {
	Actor  string `json:"actor,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ApprovalRequest — решение по гейту.
type ApprovalRequest struct {
	Approver string `json:"approver"`
	Reason   string `json:"reason,omitempty"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	PipelineID string
	Status     string
	Limit      int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Conveyor API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Pipelines ---

// ListPipelines возвращает все pipelines.
func (c *Client) ListPipelines() ([]PipelineResponse, error) {
	var pipelines []PipelineResponse
	err := c.list("/api/v1/pipelines", nil, &pipelines)
	return pipelines, err
}

// CreatePipeline регистрирует pipeline из YAML-спецификации.
func (c *Client) CreatePipeline(specYAML []byte) (*PipelineResponse, error) {
	var pipeline PipelineResponse
	err := c.sendYAML(http.MethodPost, "/api/v1/pipelines", specYAML, &pipeline)
	return &pipeline, err
}

// GetPipeline возвращает pipeline по ID.
func (c *Client) GetPipeline(id string) (*PipelineResponse, error) {
	var pipeline PipelineResponse
	err := c.get("/api/v1/pipelines/"+id, &pipeline)
	return &pipeline, err
}

// UpdatePipelineSpec заменяет спецификацию pipeline новой версией YAML.
func (c *Client) UpdatePipelineSpec(id string, specYAML []byte) (*PipelineResponse, error) {
	var pipeline PipelineResponse
	err := c.sendYAML(http.MethodPut, "/api/v1/pipelines/"+id, specYAML, &pipeline)
	return &pipeline, err
}

// DeletePipeline удаляет pipeline.
func (c *Client) DeletePipeline(id string) error {
	return c.delete("/api/v1/pipelines/" + id)
}

// SetPipelineActive включает или выключает pipeline.
func (c *Client) SetPipelineActive(id string, active bool) (*PipelineResponse, error) {
	body := map[string]bool{"is_active": active}
	var pipeline PipelineResponse
	err := c.put("/api/v1/pipelines/"+id+"/active", body, &pipeline)
	return &pipeline, err
}

// --- Runs ---

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.PipelineID != "" {
		params.Set("pipeline_id", opts.PipelineID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var runs []RunResponse
	err := c.list("/api/v1/runs", params, &runs)
	return runs, err
}

// TriggerRun запускает run для pipeline.
func (c *Client) TriggerRun(pipelineID string, req TriggerRunRequest) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/pipelines/"+pipelineID+"/runs", req, &run)
	return &run, err
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get("/api/v1/runs/"+id, &run)
	return &run, err
}

// CancelRun отменяет run.
func (c *Client) CancelRun(id string, req CancelRunRequest) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/runs/"+id+"/cancel", req, &run)
	return &run, err
}

// ListExecutions возвращает executions для run.
func (c *Client) ListExecutions(runID string) ([]ExecutionResponse, error) {
	var executions []ExecutionResponse
	err := c.list("/api/v1/runs/"+runID+"/executions", nil, &executions)
	return executions, err
}

// GetRunLedger возвращает журнал переходов run.
func (c *Client) GetRunLedger(runID string) ([]LedgerEntryResponse, error) {
	var entries []LedgerEntryResponse
	err := c.list("/api/v1/runs/"+runID+"/ledger", nil, &entries)
	return entries, err
}

// --- Approvals ---

// ApproveExecution подаёт approval по execution, ожидающему гейта.
func (c *Client) ApproveExecution(executionID string, req ApprovalRequest) error {
	return c.post("/api/v1/executions/"+executionID+"/approve", req, nil)
}

// RejectExecution отклоняет execution, ожидающий гейта.
func (c *Client) RejectExecution(executionID string, req ApprovalRequest) error {
	return c.post("/api/v1/executions/"+executionID+"/reject", req, nil)
}

// ListApprovals возвращает решения по execution.
func (c *Client) ListApprovals(executionID string) ([]ApprovalResponse, error) {
	var approvals []ApprovalResponse
	err := c.list("/api/v1/executions/"+executionID+"/approvals", nil, &approvals)
	return approvals, err
}

// --- Artifacts ---

// ListArtifacts возвращает артефакты run.
func (c *Client) ListArtifacts(runID string) ([]ArtifactResponse, error) {
	var artifacts []ArtifactResponse
	err := c.list("/api/v1/runs/"+runID+"/artifacts", nil, &artifacts)
	return artifacts, err
}

// DownloadArtifact скачивает содержимое артефакта в w.
func (c *Client) DownloadArtifact(runID, name string, w io.Writer) (int64, error) {
	resp, err := c.do(http.MethodGet, "/api/v1/runs/"+runID+"/artifacts/"+url.PathEscape(name), nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return 0, err
	}

	return io.Copy(w, resp.Body)
}

// UploadArtifact загружает артефакт от имени execution.
func (c *Client) UploadArtifact(runID, name, executionID string, r io.Reader, size int64) (*ArtifactResponse, error) {
	path := "/api/v1/runs/" + runID + "/artifacts/" + url.PathEscape(name) +
		"?execution_id=" + url.QueryEscape(executionID)

	req, err := http.NewRequest(http.MethodPut, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = size

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return nil, err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var artifact ArtifactResponse
	if err := json.Unmarshal(dr.Data, &artifact); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// --- Schedules ---

// ListSchedules возвращает schedules. Если pipelineID не пустой — фильтрует.
func (c *Client) ListSchedules(pipelineID string) ([]ScheduleResponse, error) {
	params := url.Values{}
	if pipelineID != "" {
		params.Set("pipeline_id", pipelineID)
	}

	var schedules []ScheduleResponse
	err := c.list("/api/v1/schedules", params, &schedules)
	return schedules, err
}

// EnableSchedule включает schedule.
func (c *Client) EnableSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	body := map[string]bool{"enabled": true}
	err := c.put("/api/v1/schedules/"+id+"/enabled", body, &schedule)
	return &schedule, err
}

// DisableSchedule выключает schedule.
func (c *Client) DisableSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	body := map[string]bool{"enabled": false}
	err := c.put("/api/v1/schedules/"+id+"/enabled", body, &schedule)
	return &schedule, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

// sendYAML отправляет сырой YAML телом запроса (регистрация спецификации pipeline).
func (c *Client) sendYAML(method, path string, specYAML []byte, result any) error {
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(specYAML))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/yaml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(dr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 202 Accepted и 204 No Content могут приходить без тела
	if resp.StatusCode == http.StatusNoContent || result == nil {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(dr.Data) == 0 {
		return nil
	}
	return json.Unmarshal(dr.Data, result)
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
