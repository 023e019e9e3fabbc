package api

type Code = int

// common
const (
	CodeSuccess       Code = 0
	CodeError500      Code = 500
	CodeParamsInvalid Code = 10000
	CodeNotFound      Code = 10001
	CodeDbError       Code = 10002
)

// marketplace
const (
	CodePriceTamper       Code = 20001
	CodeNotListed         Code = 20002
	CodeNotSeller         Code = 20003
	CodeInsufficientFunds Code = 20004
)
