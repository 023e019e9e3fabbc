package tables

import (
	"time"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// InscriptionJob is one attempt to inscribe one file. The raw payload lives
// in FileBlob, keyed by the same id, so large files never bloat lifecycle
// queries.
type InscriptionJob struct {
	Id              string     `gorm:"column:id;type:varchar(64);primary_key;NOT NULL"`
	FileName        string     `gorm:"column:file_name;type:varchar(255);default:'';NOT NULL"`
	FileSize        int64      `gorm:"column:file_size;type:bigint;default:0;NOT NULL"`
	ContentType     string     `gorm:"column:content_type;type:varchar(255);default:'';NOT NULL"`
	ContentEncoding string     `gorm:"column:content_encoding;type:varchar(32);default:'';NOT NULL"`
	Destination     string     `gorm:"column:destination;type:varchar(255);default:'';NOT NULL"`
	Status          JobStatus  `gorm:"column:status;type:varchar(32);index:idx_status;default:'pending';NOT NULL"`
	Progress        uint8      `gorm:"column:progress;type:tinyint unsigned;default:0;NOT NULL"`
	CurrentCommit   int        `gorm:"column:current_commit;type:int;default:0;NOT NULL"`
	TotalCommits    int        `gorm:"column:total_commits;type:int;default:0;NOT NULL"`
	InscriptionId   string     `gorm:"column:inscription_id;type:varchar(255);default:'';NOT NULL"`
	ResumeData      []byte     `gorm:"column:resume_data;type:mediumblob"`
	LastError       string     `gorm:"column:last_error;type:text"`
	CreatedAt       time.Time  `gorm:"column:created_at;type:timestamp;index:idx_created_at;default:CURRENT_TIMESTAMP;NOT NULL"`
	StartedAt       *time.Time `gorm:"column:started_at;type:timestamp"`
	CompletedAt     *time.Time `gorm:"column:completed_at;type:timestamp"`
}

func (j *InscriptionJob) TableName() string {
	return "inscription_jobs"
}

// FileBlob holds the raw bytes of a job's payload, 1:1 with InscriptionJob
// and deleted together with it.
type FileBlob struct {
	JobId string `gorm:"column:job_id;type:varchar(64);primary_key;NOT NULL"`
	Body  []byte `gorm:"column:body;type:mediumblob"`
}

func (b *FileBlob) TableName() string {
	return "file_blobs"
}
