package handle

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/koinu-labs/kins/dao"
	"github.com/koinu-labs/kins/inscription"
	"github.com/koinu-labs/kins/inscription/server/handle/api"
	"github.com/koinu-labs/kins/tables"
)

type jobResp struct {
	Id            string           `json:"id"`
	FileName      string           `json:"file_name"`
	ContentType   string           `json:"content_type"`
	Status        tables.JobStatus `json:"status"`
	Progress      uint8            `json:"progress"`
	CurrentCommit int              `json:"current_commit"`
	TotalCommits  int              `json:"total_commits"`
	InscriptionId string           `json:"inscription_id,omitempty"`
	LastError     string           `json:"last_error,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

func jobToResp(job *tables.InscriptionJob) jobResp {
	return jobResp{
		Id:            job.Id,
		FileName:      job.FileName,
		ContentType:   job.ContentType,
		Status:        job.Status,
		Progress:      job.Progress,
		CurrentCommit: job.CurrentCommit,
		TotalCommits:  job.TotalCommits,
		InscriptionId: job.InscriptionId,
		LastError:     job.LastError,
		CreatedAt:     job.CreatedAt,
	}
}

// Inscribe accepts a multipart file upload and creates a pending inscription
// job. The supervisor picks the job up; the response carries the job id for
// polling.
func (h *Handler) Inscribe(ctx *gin.Context) {
	file, err := ctx.FormFile("file")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, api.RespErr(api.CodeParamsInvalid, "file is required"))
		return
	}
	destination := ctx.PostForm("destination")

	f, err := file.Open()
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, api.RespErr(api.CodeError500, err.Error()))
		return
	}
	defer f.Close()
	payload, err := io.ReadAll(f)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, api.RespErr(api.CodeError500, err.Error()))
		return
	}

	job, err := h.options.inscriber.CreateJob("", file.Filename, payload, destination)
	if err != nil {
		if errors.Is(err, inscription.ErrUnknownExtension) ||
			errors.Is(err, inscription.ErrPayloadTooLarge) {
			ctx.JSON(http.StatusBadRequest, api.RespErr(api.CodeParamsInvalid, err.Error()))
			return
		}
		ctx.JSON(http.StatusInternalServerError, api.RespErr(api.CodeDbError, err.Error()))
		return
	}
	ctx.JSON(http.StatusOK, api.RespOK(jobToResp(job)))
}

// Job returns the lifecycle state of one inscription job.
func (h *Handler) Job(ctx *gin.Context) {
	job, err := h.DB().GetJob(ctx.Param("id"))
	if err != nil {
		if dao.IsRecordNotFound(err) {
			ctx.JSON(http.StatusNotFound, api.RespErr(api.CodeNotFound, "job not found"))
			return
		}
		ctx.JSON(http.StatusInternalServerError, api.RespErr(api.CodeDbError, err.Error()))
		return
	}
	ctx.JSON(http.StatusOK, api.RespOK(jobToResp(&job)))
}
