package messenger

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/example/email-messenger/internal/models"
)

// ErrInvalidParameter is returned when a work item's parameter bag cannot be
// decoded into a SendRequest.
var ErrInvalidParameter = errors.New("invalid work item parameter")

const messageOutboxParamName = "MessageOutboxId"

// SendRequest is the typed form of a "send this message" work item.
type SendRequest struct {
	WorkItemID      string
	MessageOutboxID int
}

// DecodeSendRequest extracts the message outbox identifier stored under slot.
// A missing slot or a non-integer value yields ErrInvalidParameter.
func DecodeSendRequest(item *models.WorkItem, slot int) (SendRequest, error) {
	if item == nil {
		return SendRequest{}, fmt.Errorf("%w: work item is nil", ErrInvalidParameter)
	}

	param, ok := item.Parameters.Lookup(slot)
	if !ok {
		return SendRequest{}, fmt.Errorf("%w: %s (slot %d) is missing", ErrInvalidParameter, messageOutboxParamName, slot)
	}

	id, err := strconv.Atoi(strings.TrimSpace(param.Value))
	if err != nil {
		return SendRequest{}, fmt.Errorf("%w: %s (slot %d) must be an integer: %v", ErrInvalidParameter, messageOutboxParamName, slot, err)
	}

	return SendRequest{WorkItemID: item.ID, MessageOutboxID: id}, nil
}
