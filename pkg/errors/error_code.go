package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidOrder         ErrorCode = 102
	ErrCodeInvalidSignal        ErrorCode = 103
	ErrCodeInvalidInstrument    ErrorCode = 104
	ErrCodeInvalidQuantity      ErrorCode = 105
	ErrCodeInvalidPrice         ErrorCode = 106
	ErrCodeInvalidTransition    ErrorCode = 107
	ErrCodeMissingParameter     ErrorCode = 108

	// Market data errors (200-299)
	ErrCodeQuoteNotFound       ErrorCode = 200
	ErrCodeFeedUnavailable     ErrorCode = 201
	ErrCodeFeedParseFailed     ErrorCode = 202
	ErrCodeSubscriptionFailed  ErrorCode = 203
	ErrCodeAccountFetchFailed  ErrorCode = 204
	ErrCodePositionsFetchError ErrorCode = 205

	// Strategy errors (300-399)
	ErrCodeStrategyNotFound      ErrorCode = 300
	ErrCodeStrategyExists        ErrorCode = 301
	ErrCodeStrategyConfigError   ErrorCode = 302
	ErrCodeStrategyRuntimeError  ErrorCode = 303
	ErrCodeStrategySchemaFailed  ErrorCode = 304
	ErrCodeStrategyNotActivated  ErrorCode = 305
	ErrCodeStrategyInitializeErr ErrorCode = 306

	// Risk errors (400-499)
	ErrCodeRiskConfigError   ErrorCode = 400
	ErrCodeTradeRejected     ErrorCode = 401
	ErrCodeInsufficientFunds ErrorCode = 402

	// Trading errors (500-599)
	ErrCodeOrderFailed        ErrorCode = 500
	ErrCodeOrderNotFound      ErrorCode = 501
	ErrCodePositionNotFound   ErrorCode = 502
	ErrCodeCancelFailed       ErrorCode = 503
	ErrCodeModifyFailed       ErrorCode = 504
	ErrCodeNotConnected       ErrorCode = 505
	ErrCodeEngineNotRunning   ErrorCode = 506
	ErrCodeEngineBusy         ErrorCode = 507
	ErrCodeDuplicateSignal    ErrorCode = 508
	ErrCodePositionCloseError ErrorCode = 509

	// Backtest errors (600-699)
	ErrCodeBacktestConfigError ErrorCode = 600
	ErrCodeBacktestDataError   ErrorCode = 601
	ErrCodeBacktestNoData      ErrorCode = 602
	ErrCodeBacktestRunFailed   ErrorCode = 603
	ErrCodeBacktestResultError ErrorCode = 604

	// Storage errors (700-799)
	ErrCodeStoreInitFailed  ErrorCode = 700
	ErrCodeStoreWriteFailed ErrorCode = 701
	ErrCodeStoreQueryFailed ErrorCode = 702
)
