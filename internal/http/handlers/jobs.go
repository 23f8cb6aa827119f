package handlers

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"genstudio/internal/domain"
	"genstudio/internal/middleware"
	"genstudio/internal/service"
)

// maxReferenceBytes caps uploaded remix reference images.
const maxReferenceBytes = 10 << 20

type generateRequest struct {
	Prompt string `json:"prompt"`
	domain.GenerationParams
}

type enqueueResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

type jobView struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	Prompt         string          `json:"prompt"`
	Status         string          `json:"status"`
	Seed           int             `json:"seed"`
	Model          string          `json:"model,omitempty"`
	StyleType      string          `json:"styleType,omitempty"`
	AspectRatio    string          `json:"aspectRatio,omitempty"`
	NegativePrompt string          `json:"negativePrompt,omitempty"`
	ColorPalette   json.RawMessage `json:"colorPalette,omitempty"`
	ImageInputURL  string          `json:"imageInputUrl,omitempty"`
	ResultURL      string          `json:"resultUrl"`
	PromptEnhanced string          `json:"promptEnhanced,omitempty"`
	Error          *string         `json:"error"`
	IsPublished    bool            `json:"isPublished"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func newJobView(job *domain.Job) jobView {
	view := jobView{
		ID:             job.ID,
		UserID:         job.UserID,
		Prompt:         job.Prompt,
		Status:         job.Status.Upper(),
		Seed:           job.Seed,
		Model:          string(job.Model),
		StyleType:      string(job.StyleType),
		AspectRatio:    string(job.AspectRatio),
		NegativePrompt: job.Params.NegativePrompt,
		ColorPalette:   job.Params.ColorPalette,
		ImageInputURL:  job.Params.ImageInputURL,
		ResultURL:      job.ResultURL,
		PromptEnhanced: job.PromptEnhanced,
		IsPublished:    job.Published,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
	if job.ErrorMessage != "" {
		msg := job.ErrorMessage
		view.Error = &msg
	}
	return view
}

func (a *App) GenerateImage(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	req.IsRemix = false
	a.enqueue(w, r, userID, req)
}

// RemixImage accepts either a JSON body carrying image_input_url or a
// multipart form with an image_file part.
func (a *App) RemixImage(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req generateRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		parsed, status, err := a.parseRemixForm(w, r, userID)
		if err != nil {
			a.error(w, status, "bad_request", err.Error())
			return
		}
		req = parsed
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	req.IsRemix = true
	a.enqueue(w, r, userID, req)
}

func (a *App) enqueue(w http.ResponseWriter, r *http.Request, userID string, req generateRequest) {
	jobID, err := a.Jobs.EnqueueJob(r.Context(), service.EnqueueInput{
		UserID: userID,
		Prompt: req.Prompt,
		Locale: middleware.LocaleFromContext(r.Context()),
		Params: req.GenerationParams,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, enqueueResponse{JobID: jobID, Status: domain.JobStatusQueued.Upper()})
}

func (a *App) parseRemixForm(w http.ResponseWriter, r *http.Request, userID string) (generateRequest, int, error) {
	var req generateRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxReferenceBytes+(1<<20))
	if err := r.ParseMultipartForm(maxReferenceBytes); err != nil {
		return req, http.StatusBadRequest, errors.New("invalid multipart form")
	}
	form := r.MultipartForm.Value
	value := func(key string) string {
		if v := form[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	req.Prompt = value("prompt")
	req.Model = value("model")
	req.StyleType = value("style_type")
	req.AspectRatio = value("aspect_ratio")
	req.MagicPromptOption = value("magic_prompt_option")
	req.NegativePrompt = value("negative_prompt")
	req.ImageDescription = value("image_description")
	req.StyleBuilder = value("style_builder")
	req.ImageInputURL = value("image_input_url")
	if raw := value("color_palette"); raw != "" && json.Valid([]byte(raw)) {
		req.ColorPalette = json.RawMessage(raw)
	}
	for key, dst := range map[string]**int{"seed": &req.Seed, "image_weight": &req.ImageWeight} {
		raw := value(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return req, http.StatusBadRequest, errors.New(key + " must be an integer")
		}
		*dst = &n
	}

	file, header, err := r.FormFile("image_file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return req, 0, nil
	case err != nil:
		return req, http.StatusBadRequest, errors.New("invalid image_file")
	}
	defer file.Close()
	if a.References == nil {
		return req, http.StatusBadRequest, errors.New("image uploads are not supported, send image_input_url")
	}
	url, err := a.References.Save(r.Context(), userID, file, header.Header.Get("Content-Type"), maxReferenceBytes)
	if err != nil {
		a.Logger.Warn().Err(err).Str("user_id", userID).Msg("http: store remix reference failed")
		return req, http.StatusBadRequest, errors.New("image_file could not be stored")
	}
	req.ImageInputURL = url
	return req, 0, nil
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.GetJob(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if job.UserID != a.currentUserID(r) {
		a.fail(w, r, domain.ErrForbidden)
		return
	}
	a.json(w, http.StatusOK, newJobView(job))
}

func (a *App) ListJobsForUser(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userId"))
	if userID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "userId is required")
		return
	}
	if userID != a.currentUserID(r) {
		a.fail(w, r, domain.ErrForbidden)
		return
	}
	jobs, err := a.Jobs.ListJobsForUser(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	views := make([]jobView, 0, len(jobs))
	for i := range jobs {
		views = append(views, newJobView(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"jobs": views})
}

func (a *App) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := a.Jobs.DeleteJob(r.Context(), chi.URLParam(r, "jobId"), a.currentUserID(r)); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"message": "Job deleted successfully."})
}
