package mongo

import (
	"context"
	"strings"

	gerrors "github.com/TFMV/sqlgate/pkg/errors"
	"github.com/TFMV/sqlgate/pkg/models"
)

// QueryCheck accepts a single read command.
func (e *Engine) QueryCheck(stmt string) models.QueryCheckResult {
	cmds, err := SplitCommands(stmt)
	if err != nil {
		return models.QueryCheckResult{BadQuery: true, Msg: gerrors.GetMessage(err)}
	}
	if len(cmds) == 0 {
		return models.QueryCheckResult{BadQuery: true, Msg: "no valid statement"}
	}
	cmd, err := ParseCommand(cmds[0])
	if err != nil {
		return models.QueryCheckResult{BadQuery: true, FilteredSQL: cmds[0], Msg: gerrors.GetMessage(err)}
	}
	if !cmd.ReadOnly() {
		return models.QueryCheckResult{
			BadQuery:    true,
			FilteredSQL: cmd.Raw,
			Msg:         "only " + strings.Join(e.ReadOnlyVerbs(), ", ") + " and show are allowed",
		}
	}
	return models.QueryCheckResult{FilteredSQL: cmd.Raw}
}

// ExecuteCheck validates a change script: every command must parse and
// write, and collections touched by updates, deletes and DDL must exist
// either in the database or earlier in the script.
func (e *Engine) ExecuteCheck(ctx context.Context, inst models.Instance, schema, script string) *models.ReviewSet {
	set := models.NewReviewSet(script)

	cmds, err := SplitCommands(script)
	if err != nil {
		set.Error = gerrors.GetMessage(err)
		return set
	}

	sess, err := e.Connect(ctx, inst, schema)
	if err != nil {
		set.Error = gerrors.GetMessage(err)
		return set
	}
	defer sess.Close()
	s := sess.(*Session)

	created := map[string]bool{}
	dropped := map[string]bool{}
	exists := func(name string) (bool, error) {
		if created[name] {
			return true, nil
		}
		if dropped[name] {
			return false, nil
		}
		return s.ObjectExists(ctx, models.ObjectRef{Name: name})
	}

	for _, raw := range cmds {
		row := set.Append(&models.ReviewResult{
			SQL:         raw,
			StageStatus: models.StageAuditCompleted,
			StmtType:    string(models.StmtTypeSQL),
		})

		cmd, err := ParseCommand(raw)
		if err != nil {
			row.AddMessage(models.ErrLevelError, gerrors.GetMessage(err))
			continue
		}
		if cmd.ReadOnly() {
			row.AddMessage(models.ErrLevelError, "read commands are not allowed in change scripts")
			continue
		}
		row.ObjectName = cmd.Collection
		row.ObjectType = "COLLECTION"

		if cmd.IsDDL() {
			set.SyntaxType = models.SyntaxTypeDDL
		} else if set.SyntaxType != models.SyntaxTypeDDL {
			set.SyntaxType = models.SyntaxTypeDML
		}

		switch cmd.Method {
		case "insertOne", "insertMany":
			created[cmd.Collection] = true
			delete(dropped, cmd.Collection)
			continue
		case "createCollection":
			ok, err := exists(cmd.Collection)
			switch {
			case err != nil:
				row.AddMessage(models.ErrLevelError, gerrors.GetMessage(err))
			case ok:
				row.AddMessage(models.ErrLevelError, "collection "+cmd.Collection+" already exists")
			default:
				created[cmd.Collection] = true
				delete(dropped, cmd.Collection)
			}
			continue
		}

		ok, err := exists(cmd.Collection)
		if err != nil {
			row.AddMessage(models.ErrLevelError, gerrors.GetMessage(err))
			continue
		}
		if !ok {
			row.AddMessage(models.ErrLevelWarning, "collection "+cmd.Collection+" does not exist")
		}
		switch cmd.Method {
		case "drop":
			delete(created, cmd.Collection)
			dropped[cmd.Collection] = true
		case "renameCollection":
			if to, err := cmd.str(0); err == nil {
				delete(created, cmd.Collection)
				dropped[cmd.Collection] = true
				created[to] = true
			}
		}
	}

	set.Recount()
	return set
}
