package dao

import (
	"time"

	"gorm.io/gorm"

	"github.com/koinu-labs/kins/tables"
)

// CreateJob stores a new job and its payload blob in one transaction.
func (d *DB) CreateJob(job *tables.InscriptionJob, body []byte) error {
	return d.Transaction(func(tx *DB) error {
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		return tx.Create(&tables.FileBlob{JobId: job.Id, Body: body}).Error
	})
}

// GetJob loads a job by id.
func (d *DB) GetJob(id string) (job tables.InscriptionJob, err error) {
	err = d.Where("id = ?", id).First(&job).Error
	return
}

// GetJobBlob loads the raw payload of a job.
func (d *DB) GetJobBlob(id string) (blob tables.FileBlob, err error) {
	err = d.Where("job_id = ?", id).First(&blob).Error
	return
}

// IncompleteJobs returns every job that still needs driving. Processing jobs
// come first so an interrupted chain is finished before new work starts;
// within a status, arrival order wins.
func (d *DB) IncompleteJobs() (jobs []tables.InscriptionJob, err error) {
	err = d.Where("status IN ?", []tables.JobStatus{
		tables.JobStatusProcessing,
		tables.JobStatusPending,
	}).Order("CASE status WHEN 'processing' THEN 0 ELSE 1 END, created_at ASC").
		Find(&jobs).Error
	return
}

// JobsByStatus returns jobs with the given status ordered by creation time.
func (d *DB) JobsByStatus(status tables.JobStatus) (jobs []tables.InscriptionJob, err error) {
	err = d.Where("status = ?", status).Order("created_at ASC").Find(&jobs).Error
	return
}

// SaveJobCheckpoint persists the post-broadcast state of a job. The write
// happens after a successful broadcast and before the next step is attempted;
// that ordering is what makes a crash recoverable without a double broadcast.
func (d *DB) SaveJobCheckpoint(job *tables.InscriptionJob) error {
	return d.Model(&tables.InscriptionJob{}).Where("id = ?", job.Id).
		Updates(map[string]interface{}{
			"status":         job.Status,
			"progress":       job.Progress,
			"current_commit": job.CurrentCommit,
			"total_commits":  job.TotalCommits,
			"resume_data":    job.ResumeData,
			"started_at":     job.StartedAt,
		}).Error
}

// MarkJobCompleted records the reveal txid as the job's inscription id and
// moves it to its terminal success state.
func (d *DB) MarkJobCompleted(id, inscriptionId string) error {
	now := time.Now()
	return d.Model(&tables.InscriptionJob{}).
		Where("id = ? AND status <> ?", id, tables.JobStatusCompleted).
		Updates(map[string]interface{}{
			"status":         tables.JobStatusCompleted,
			"progress":       100,
			"inscription_id": inscriptionId,
			"completed_at":   &now,
		}).Error
}

// MarkJobFailed records the error message and moves the job to its terminal
// failure state. Completed jobs never regress.
func (d *DB) MarkJobFailed(id, message string) error {
	return d.Model(&tables.InscriptionJob{}).
		Where("id = ? AND status <> ?", id, tables.JobStatusCompleted).
		Updates(map[string]interface{}{
			"status":     tables.JobStatusFailed,
			"last_error": message,
		}).Error
}

// DeleteJob removes a job together with its payload blob.
func (d *DB) DeleteJob(id string) error {
	return d.Transaction(func(tx *DB) error {
		if err := tx.Where("id = ?", id).Delete(&tables.InscriptionJob{}).Error; err != nil {
			return err
		}
		err := tx.Where("job_id = ?", id).Delete(&tables.FileBlob{}).Error
		if err != nil && err != gorm.ErrRecordNotFound {
			return err
		}
		return nil
	})
}
