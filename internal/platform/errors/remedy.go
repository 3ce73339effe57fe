package errors

// Remedy returns a one-line, user facing suggestion for a fatal error.
// Empty means the message already says everything useful
func Remedy(err error) string {
	switch CodeOf(err) {
	case ErrorCodeConfiguration:
		return "check GCP_PROJECT_ID, GCP_LOCATION and GOOGLE_APPLICATION_CREDENTIALS in your environment or .env file"
	case ErrorCodeUnauthorized:
		return "the credentials were rejected; run `gcloud auth application-default login` or point GOOGLE_APPLICATION_CREDENTIALS at a valid service account key"
	case ErrorCodeSubmission:
		return "the batch job could not be created; check the Vertex AI quota and the model name, then run again"
	case ErrorCodeTimeout:
		return "the job is still registered; run again later with -resume to pick up its results"
	case ErrorCodePolling:
		return "inspect the job in the Vertex AI console (batch predictions) for the failure reason"
	case ErrorCodeBusy:
		return "another pass holds the job registry; wait for it to finish and run again"
	case ErrorCodeUnregistered:
		id := "the job"
		if e, ok := As(err); ok && e.Field() != "" {
			id = "job " + e.Field()
		}
		return id + " is running but not tracked; when it finishes rebuild its deck with -recover-prefix <output prefix shown above>"
	case ErrorCodeStorage:
		return "check that the registry and output paths are writable"
	case ErrorCodeDB:
		return "check REGISTRY_PG_URL and that the database is reachable"
	case ErrorCodeUnavailable, ErrorCodeTooManyRequests:
		return "the provider is unavailable or rate limiting; retry in a few minutes"
	default:
		return ""
	}
}

// ExitCode returns the process exit status for a fatal error: 0 for nil, 1 otherwise
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
