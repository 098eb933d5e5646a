package redis

import (
	"context"

	gerrors "github.com/TFMV/sqlgate/pkg/errors"
	"github.com/TFMV/sqlgate/pkg/models"
)

// QueryCheck accepts a single read command.
func (e *Engine) QueryCheck(stmt string) models.QueryCheckResult {
	cmds := SplitCommands(stmt)
	if len(cmds) == 0 {
		return models.QueryCheckResult{BadQuery: true, Msg: "no valid statement"}
	}
	args, err := ParseArgs(cmds[0])
	if err != nil {
		return models.QueryCheckResult{BadQuery: true, FilteredSQL: cmds[0], Msg: gerrors.GetMessage(err)}
	}
	if !IsRead(args) {
		return models.QueryCheckResult{
			BadQuery:    true,
			FilteredSQL: cmds[0],
			Msg:         "only read commands are allowed, got " + Name(args),
		}
	}
	return models.QueryCheckResult{FilteredSQL: cmds[0]}
}

// ExecuteCheck grades each command line. Denied commands are errors and
// read commands are warnings since they change nothing. No connection is
// needed.
func (e *Engine) ExecuteCheck(_ context.Context, _ models.Instance, _, script string) *models.ReviewSet {
	set := models.NewReviewSet(script)
	for _, line := range SplitCommands(script) {
		row := set.Append(&models.ReviewResult{
			SQL:         line,
			StageStatus: models.StageAuditCompleted,
			StmtType:    string(models.StmtTypeSQL),
		})
		args, err := ParseArgs(line)
		switch {
		case err != nil:
			row.AddMessage(models.ErrLevelError, gerrors.GetMessage(err))
		case IsDenied(args):
			row.AddMessage(models.ErrLevelError, Name(args)+" is not allowed")
		case IsRead(args):
			row.AddMessage(models.ErrLevelWarning, Name(args)+" is a read command and changes nothing")
		default:
			if len(args) > 1 {
				row.ObjectName = args[1]
				row.ObjectType = "KEY"
			}
			set.SyntaxType = models.SyntaxTypeDML
		}
	}
	set.Recount()
	return set
}
