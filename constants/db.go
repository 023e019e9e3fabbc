package constants

const (
	DefaultDBName       = "kins"
	DefaultDBListenPort = "3306"
)
