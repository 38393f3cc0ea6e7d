package directors

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"tourcraft/src/helpers"
	"tourcraft/src/models"
	"tourcraft/src/settings"
)

// CommandResponse is the JSON envelope for command results.
type CommandResponse struct {
	ResultCount int         `json:"resultCount"`
	Result      interface{} `json:"result"`
}

// CommandDirector parses one text command from an operator connection
// and dispatches it to the services. Commands:
//
//	AUDIT <collection> <id>
//	REPAIR <collection> <id>
//	REPAIR <collection> <id> <relation> <newId|NULL>
//	FETCH <collection> <id>
//	QUERY <collection> <field> <value>
//	SET <collection> <id> <field> <value>
//	CLEAR <collection> <id> <relation>
//	DELETE <collection> <id>
//	STATUS
func CommandDirector(ctx context.Context, serviceManager ServiceManager, command string, logger *zap.SugaredLogger) (interface{}, error) {
	command = strings.TrimSpace(command)
	command = strings.TrimSuffix(command, ";") // Remove trailing semicolon if present
	commandParts := strings.Fields(command)
	if len(commandParts) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	switch strings.ToUpper(commandParts[0]) {
	case "AUDIT":
		if len(commandParts) != 3 {
			return nil, fmt.Errorf("AUDIT requires '<collection> <id>'")
		}
		report, err := serviceManager.Auditor.Audit(ctx, commandParts[1], helpers.StripQuotes(commandParts[2]))
		if err != nil {
			return nil, err
		}
		return &CommandResponse{ResultCount: len(report.Issues), Result: report}, nil

	case "REPAIR":
		switch len(commandParts) {
		case 3:
			// Re-assert every forward key the entity holds
			result, err := serviceManager.Repairer.Heal(ctx, commandParts[1], helpers.StripQuotes(commandParts[2]))
			if err != nil {
				return nil, err
			}
			return &CommandResponse{ResultCount: len(result.Updates), Result: result}, nil
		case 5:
			newID := helpers.StripQuotes(commandParts[4])
			if strings.EqualFold(newID, "NULL") {
				newID = ""
			}
			return repairRelation(ctx, serviceManager, commandParts[1], helpers.StripQuotes(commandParts[2]), commandParts[3], newID)
		default:
			return nil, fmt.Errorf("REPAIR requires '<collection> <id>' or '<collection> <id> <relation> <newId|NULL>'")
		}

	case "FETCH":
		if len(commandParts) != 3 {
			return nil, fmt.Errorf("FETCH requires '<collection> <id>'")
		}
		doc, err := serviceManager.EntityService.GetEntity(ctx, commandParts[1], helpers.StripQuotes(commandParts[2]))
		if err != nil {
			return nil, err
		}
		return &CommandResponse{ResultCount: 1, Result: doc}, nil

	case "QUERY":
		if len(commandParts) != 4 {
			return nil, fmt.Errorf("QUERY requires '<collection> <field> <value>'")
		}
		docs, err := serviceManager.EntityService.QueryEntities(ctx, commandParts[1], commandParts[2], helpers.StripQuotes(commandParts[3]))
		if err != nil {
			return nil, err
		}
		return &CommandResponse{ResultCount: len(docs), Result: docs}, nil

	case "SET":
		if len(commandParts) != 5 {
			return nil, fmt.Errorf("SET requires '<collection> <id> <field> <value>'")
		}
		result, err := serviceManager.EntityService.SetField(ctx, commandParts[1],
			helpers.StripQuotes(commandParts[2]), commandParts[3], helpers.StripQuotes(commandParts[4]))
		if err != nil {
			return nil, err
		}
		return &CommandResponse{ResultCount: len(result.Updates), Result: result}, nil

	case "CLEAR":
		if len(commandParts) != 4 {
			return nil, fmt.Errorf("CLEAR requires '<collection> <id> <relation>'")
		}
		return repairRelation(ctx, serviceManager, commandParts[1], helpers.StripQuotes(commandParts[2]), commandParts[3], "")

	case "DELETE":
		if len(commandParts) != 3 {
			return nil, fmt.Errorf("DELETE requires '<collection> <id>'")
		}
		result, err := serviceManager.EntityService.DeleteEntity(ctx, commandParts[1], helpers.StripQuotes(commandParts[2]))
		if err != nil {
			return nil, err
		}
		return &CommandResponse{ResultCount: len(result.Updates), Result: result}, nil

	case "STATUS":
		args := settings.GetSettings()
		return map[string]interface{}{
			"status":      "ok",
			"version":     args.Version,
			"storage":     args.Storage,
			"collections": models.KnownCollections,
			"relations":   len(serviceManager.Relations.All()),
		}, nil
	}

	return nil, fmt.Errorf("unknown command '%s'", commandParts[0])
}

// repairRelation points one declared relation of an entity at a new
// target (or clears it) and moves the back-references along.
func repairRelation(ctx context.Context, serviceManager ServiceManager, collection, id, relationName, newID string) (interface{}, error) {
	decl, ok := serviceManager.Relations.Find(collection, relationName)
	if !ok {
		return nil, fmt.Errorf("unknown relation '%s' on collection '%s'", relationName, collection)
	}

	result, err := serviceManager.EntityService.SetField(ctx, collection, id, decl.FKField, newID)
	if err != nil {
		return nil, err
	}
	return &CommandResponse{ResultCount: len(result.Updates), Result: result}, nil
}
