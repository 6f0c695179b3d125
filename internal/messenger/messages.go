package messenger

// Audit templates written against the work item.
const (
	msgInitializing       = "Initializing the processing and reading the parameter values of the work item ID %s."
	msgContentNotFound    = "The message content not found: %d"
	msgTrackedSent        = "Email is successfully sent via email tracker tool for message number: %d"
	msgDirectSent         = "Email is successfully sent to all receivers for message number: %d"
	msgTrackedNotSent     = "Could not schedule to send via email tracker tool for message number: %d"
	msgDirectNotSent      = "Could not send email to recipients for message number: %d"
	msgProcessingComplete = "The work item processing is complete."

	// Shown to operators in the queue log; kept in Portuguese.
	msgProcessingFailed = "Ocorreu um problema ao processar o item %s. Detalhes: %s"
)
