package audit

import (
	"strings"

	"trustlayer/internal/audit/domain"
)

// ActionResource holds action and resource derived from a gRPC full method name.
type ActionResource struct {
	Action   string
	Resource string
}

// ParseFullMethod returns action and resource for a gRPC full method
// (e.g. /trustlayer.permission.v1.PermissionService/GetDecision).
// Action is a verb: get, list, create, update, delete, or the lowercased
// method name. Resource is the service name without its Service suffix.
func ParseFullMethod(fullMethod string) ActionResource {
	slash := strings.LastIndex(fullMethod, "/")
	if slash < 0 {
		return ActionResource{Action: "unknown", Resource: "unknown"}
	}
	method := fullMethod[slash+1:]
	beforeSlash := fullMethod[:slash]
	dot := strings.LastIndex(beforeSlash, ".")
	if dot < 0 {
		return ActionResource{Action: strings.ToLower(method), Resource: "unknown"}
	}
	return ActionResource{Action: methodToAction(method), Resource: serviceToResource(beforeSlash[dot+1:])}
}

func serviceToResource(serviceName string) string {
	s := strings.TrimSuffix(serviceName, "Service")
	if s == "" {
		return "unknown"
	}
	return strings.ToLower(s[0:1]) + s[1:]
}

func methodToAction(method string) string {
	switch {
	case strings.HasPrefix(method, "Get") && method != "Get":
		return "get"
	case strings.HasPrefix(method, "List"), strings.HasPrefix(method, "Search"):
		return "list"
	case strings.HasPrefix(method, "Create"), strings.HasPrefix(method, "Add"):
		return "create"
	case strings.HasPrefix(method, "Update"):
		return "update"
	case strings.HasPrefix(method, "Delete"), strings.HasPrefix(method, "Remove"), strings.HasPrefix(method, "Revoke"):
		return "delete"
	case strings.HasPrefix(method, "Export"):
		return "export"
	default:
		return strings.ToLower(method)
	}
}

// RPCOutcome classifies how an RPC ended.
type RPCOutcome int

const (
	RPCOK RPCOutcome = iota
	RPCDenied
	RPCFailed
)

// RPCEvent builds the event recorded for one RPC. Denied calls are
// ACCESS_DENIED; otherwise the action picks a DATA_* type, falling back to
// API_ACCESS.
func RPCEvent(fullMethod string, outcome RPCOutcome) domain.Event {
	ar := ParseFullMethod(fullMethod)
	e := domain.Event{
		Type:     domain.EventAPIAccess,
		Status:   domain.StatusSuccess,
		Actor:    domain.Actor{Type: domain.ActorAPI, ID: "anonymous"},
		Target:   &domain.Target{Type: ar.Resource},
		Context:  domain.Context{Operation: fullMethod},
		Metadata: map[string]string{"action": ar.Action, "resource": ar.Resource},
	}
	switch ar.Action {
	case "get", "list":
		e.Type = domain.EventDataRead
	case "create":
		e.Type = domain.EventDataCreate
	case "update":
		e.Type = domain.EventDataUpdate
	case "delete":
		e.Type = domain.EventDataDelete
	case "export":
		e.Type = domain.EventDataExport
	}
	switch outcome {
	case RPCDenied:
		e.Type = domain.EventAccessDenied
		e.Status = domain.StatusFailure
	case RPCFailed:
		e.Status = domain.StatusError
	}
	return e
}
