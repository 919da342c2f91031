package settings

import "codeberg.org/mutker/motordash/internal/errors"

const (
	// Configuration Errors
	ErrInvalidSettings = errors.ErrorCode("settings_invalid")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("settings_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("settings_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("settings_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("settings_transaction_failed")

	// Storage Errors
	ErrStorageAccess = errors.ErrorCode("settings_storage_access_failed")
	ErrStorageInit   = errors.ErrInitFailed
	ErrStorageClose  = errors.ErrShutdownFailed
)
