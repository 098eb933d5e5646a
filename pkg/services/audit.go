package services

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/TFMV/sqlgate/pkg/config"
	"github.com/TFMV/sqlgate/pkg/engines"
	gerrors "github.com/TFMV/sqlgate/pkg/errors"
	"github.com/TFMV/sqlgate/pkg/infrastructure/metrics"
	"github.com/TFMV/sqlgate/pkg/infrastructure/pool"
	"github.com/TFMV/sqlgate/pkg/models"
	"github.com/TFMV/sqlgate/pkg/sqlparse"
)

// Audit messages.
const (
	MsgReadOnly      = "read-only statement, use the query feature instead"
	MsgCritical      = "statement matches the critical DDL rule"
	MsgNoWhere       = "UPDATE/DELETE without WHERE clause"
	MsgLargeImpact   = "large impact, review carefully"
	MsgNotAuditable  = "not auditable on this platform"
	MsgNotAudited    = "not audited, a preceding statement matched the critical DDL rule"
	MsgDestructive   = "destructive beyond its target, review carefully"
	DefaultMaxAffect = 1000
)

// Auditor runs the pre-execution checks on a script.
type Auditor struct {
	cfg     config.Getter
	logger  zerolog.Logger
	metrics metrics.Collector

	mu       sync.Mutex
	critical map[string]*regexp.Regexp
}

// NewAuditor creates an auditor reading its tunables from cfg.
func NewAuditor(cfg config.Getter, logger zerolog.Logger, m metrics.Collector) *Auditor {
	if m == nil {
		m = metrics.NewNoOpCollector()
	}
	return &Auditor{
		cfg:      cfg,
		logger:   logger.With().Str("component", "auditor").Logger(),
		metrics:  m,
		critical: make(map[string]*regexp.Regexp),
	}
}

// ExecuteCheck audits script against inst. Per statement problems are
// reported on the statement's row; only a failure to split the script or to
// reach the instance sets the top-level error.
func (a *Auditor) ExecuteCheck(ctx context.Context, e engines.Engine, inst models.Instance, schema, script string) *models.ReviewSet {
	if schema == "" {
		schema = inst.DefaultSchema
	}
	logger := a.logger.With().Str("engine", e.Type()).Str("instance", inst.Name).Logger()

	if ec, ok := e.(engines.ExecuteChecker); ok {
		set := ec.ExecuteCheck(ctx, inst, schema, script)
		a.record(e, set)
		return set
	}

	set := models.NewReviewSet(script)
	items, err := engines.SplitItems(e, script, schema)
	if err != nil {
		set.Error = err.Error()
		return set
	}
	if len(items) == 0 {
		set.Error = MsgNoValidStatement
		return set
	}

	critical, err := a.criticalRule()
	if err != nil {
		set.Error = err.Error()
		return set
	}

	var sess engines.Session
	if a.needsSession() {
		sess, err = e.Connect(ctx, inst, schema)
		if err != nil {
			logger.Error().Err(err).Msg("Audit connection failed")
			set.Error = gerrors.GetMessage(err)
			return set
		}
		defer sess.Close()
	}

	run := &auditRun{
		auditor:   a,
		engine:    e,
		session:   sess,
		schema:    schema,
		critical:  critical,
		threshold: a.maxAffectedRows(),
		explain:   a.flag(config.KeyExplainEnabled, true),
		objects:   a.flag(config.KeyCheckObjects, true),
		created:   make(map[string]bool),
		dropped:   make(map[string]bool),
	}

	var checked []string
	for _, item := range items {
		row := run.check(ctx, set, item)
		set.Append(row)
		if row.StageStatus != models.StageNotAudited && !sqlparse.IsReadOnly(item.Statement, e.Dialect()) {
			checked = append(checked, item.Statement)
		}
	}
	set.SyntaxType = syntaxOf(checked)
	set.Recount()
	a.record(e, set)

	logger.Debug().
		Int("statements", len(set.Rows)).
		Int("warnings", set.WarningCount).
		Int("errors", set.ErrorCount).
		Bool("critical", set.IsCritical).
		Msg("Audit completed")
	return set
}

func (a *Auditor) record(e engines.Engine, set *models.ReviewSet) {
	for _, r := range set.Rows {
		a.metrics.IncrementCounter(metrics.AuditStatementsTotal, "engine", e.Type(), "errlevel", r.ErrLevel.String())
	}
	if set.IsCritical {
		a.metrics.IncrementCounter(metrics.AuditCriticalTotal, "engine", e.Type())
	}
}

// criticalRule compiles the configured critical DDL regex, matching case
// insensitively. An empty setting disables the rule.
func (a *Auditor) criticalRule() (*regexp.Regexp, error) {
	if a.cfg == nil {
		return nil, nil
	}
	expr := strings.TrimSpace(a.cfg.GetConfig(config.KeyCriticalDDLRegex))
	if expr == "" {
		return nil, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if re, ok := a.critical[expr]; ok {
		return re, nil
	}
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return nil, gerrors.Wrapf(err, gerrors.CodeInvalidRequest, "invalid %s", config.KeyCriticalDDLRegex)
	}
	a.critical[expr] = re
	return re, nil
}

func (a *Auditor) maxAffectedRows() int64 {
	return configInt(a.cfg, config.KeyMaxAffectedRows, DefaultMaxAffect)
}

func (a *Auditor) flag(key string, def bool) bool {
	return configBool(a.cfg, key, def)
}

// configBool reads a boolean tunable, returning def when it is unset or
// unparsable.
func configBool(cfg config.Getter, key string, def bool) bool {
	if cfg == nil {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(cfg.GetConfig(key)))
	if err != nil {
		return def
	}
	return b
}

// configInt reads a positive integer tunable, returning def otherwise.
func configInt(cfg config.Getter, key string, def int64) int64 {
	if cfg == nil {
		return def
	}
	n, err := strconv.ParseInt(strings.TrimSpace(cfg.GetConfig(key)), 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (a *Auditor) needsSession() bool {
	return a.flag(config.KeyExplainEnabled, true) || a.flag(config.KeyCheckObjects, true)
}

// auditRun carries the state accumulated left to right over one script.
type auditRun struct {
	auditor   *Auditor
	engine    engines.Engine
	session   engines.Session
	schema    string
	critical  *regexp.Regexp
	threshold int64
	explain   bool
	objects   bool

	seenCritical bool
	created      map[string]bool
	dropped      map[string]bool
}

func (r *auditRun) check(ctx context.Context, set *models.ReviewSet, item models.SQLItem) *models.ReviewResult {
	stmt := item.Statement
	row := &models.ReviewResult{
		SQL:         stmt,
		StageStatus: models.StageAuditCompleted,
		StmtType:    string(item.StmtType),
		ObjectOwner: item.ObjectOwner,
		ObjectType:  item.ObjectType,
		ObjectName:  item.ObjectName,
	}

	if r.seenCritical {
		row.StageStatus = models.StageNotAudited
		row.AddMessage(models.ErrLevelWarning, MsgNotAudited)
		return row
	}

	if r.readOnly(stmt) {
		r.reject(row, MsgReadOnly)
		return row
	}

	if r.critical != nil && r.critical.MatchString(stmt) {
		r.reject(row, MsgCritical)
		r.seenCritical = true
		set.IsCritical = true
		return row
	}

	d := r.engine.Dialect()
	if v := sqlparse.MainVerb(stmt, d); (v == "UPDATE" || v == "DELETE") && !sqlparse.HasTopLevelWhere(stmt, d) {
		r.reject(row, MsgNoWhere)
		return row
	}

	if sqlparse.IsDangerous(stmt) {
		row.AddMessage(models.ErrLevelWarning, MsgDestructive)
	}

	if item.IsPLSQL() {
		r.trackPLSQL(item)
		row.AddMessage(models.ErrLevelWarning, MsgNotAuditable)
		return row
	}

	// objects created or dropped earlier in the script are not in the
	// catalog yet, so the database cannot plan statements against them
	planned := false
	if !r.scriptLocal(stmt) {
		planned = r.plan(ctx, row, stmt)
	}
	tracked := r.checkObject(ctx, row, stmt)
	if !planned && !tracked && row.ErrLevel == models.ErrLevelOK {
		row.AddMessage(models.ErrLevelWarning, MsgNotAuditable)
	}
	return row
}

func (r *auditRun) readOnly(stmt string) bool {
	if !sqlparse.StartsWithVerb(stmt, r.engine.ReadOnlyVerbs()) {
		return false
	}
	return sqlparse.WriteKeyword(stmt, r.engine.Dialect()) == ""
}

// scriptLocal reports whether stmt targets an object an earlier statement
// of the script created or dropped.
func (r *auditRun) scriptLocal(stmt string) bool {
	target, ok := sqlparse.ExtractTarget(stmt)
	if !ok {
		return false
	}
	key := r.objectKey(target.Object)
	return r.created[key] || r.dropped[key]
}

func (r *auditRun) objectKey(obj models.ObjectRef) string {
	if obj.Schema == "" {
		obj.Schema = r.schema
	}
	return obj.Key()
}

func (r *auditRun) reject(row *models.ReviewResult, msg string) {
	row.StageStatus = models.StageRejected
	row.AddMessage(models.ErrLevelError, msg)
}

// plan explains stmt when the session can. It reports whether a plan was
// produced.
func (r *auditRun) plan(ctx context.Context, row *models.ReviewResult, stmt string) bool {
	if !r.explain || r.session == nil {
		return false
	}
	p, ok := r.session.(engines.Planner)
	if !ok || !p.Explains(stmt) {
		return false
	}

	res, err := p.Explain(ctx, stmt)
	if err != nil {
		if gerrors.HasCode(err, gerrors.CodeUnimplemented) {
			return false
		}
		row.AddMessage(models.ErrLevelError, gerrors.GetMessage(err))
		return true
	}

	row.AffectedRows = res.EstimatedRows
	if res.EstimatedRows > r.threshold {
		row.AddMessage(models.ErrLevelWarning,
			fmt.Sprintf("%s: an estimated %d rows are affected (limit %d)", MsgLargeImpact, res.EstimatedRows, r.threshold))
	}
	return true
}

// checkObject cross-checks the statement's target against the catalog and
// the objects created or dropped earlier in the script. It reports whether a
// check ran.
func (r *auditRun) checkObject(ctx context.Context, row *models.ReviewResult, stmt string) bool {
	if !r.objects {
		return false
	}
	target, ok := sqlparse.ExtractTarget(stmt)
	if !ok {
		return false
	}
	obj := target.Object
	if obj.Schema == "" {
		obj.Schema = r.schema
	}
	key := obj.Key()
	label := objectLabel(obj)

	switch target.Action {
	case sqlparse.ActionCreate:
		defer func() {
			r.created[key] = true
			delete(r.dropped, key)
		}()
		if target.Conditional {
			return true
		}
		if r.created[key] {
			r.conflict(row, label+" already exists (created earlier in this script)")
			return true
		}
		if r.dropped[key] {
			return true
		}
		exists, checked := r.exists(ctx, row, obj)
		if exists {
			r.conflict(row, label+" already exists")
		}
		return checked

	case sqlparse.ActionDrop:
		defer func() {
			delete(r.created, key)
			r.dropped[key] = true
		}()
		if r.created[key] {
			return true
		}
		if r.dropped[key] {
			if !target.Conditional {
				r.conflict(row, label+" does not exist (dropped earlier in this script)")
			}
			return true
		}
		if target.Conditional {
			return true
		}
		exists, checked := r.exists(ctx, row, obj)
		if checked && !exists {
			r.conflict(row, label+" does not exist")
		}
		return checked

	default: // alter and writes
		if r.created[key] {
			return true
		}
		if r.dropped[key] {
			r.conflict(row, label+" does not exist (dropped earlier in this script)")
			return true
		}
		if target.Conditional {
			return true
		}
		exists, checked := r.exists(ctx, row, obj)
		if checked && !exists {
			r.conflict(row, label+" does not exist")
		}
		return checked
	}
}

// exists asks the inspector about obj. checked is false when the session
// cannot answer; lookup failures are recorded on row.
func (r *auditRun) exists(ctx context.Context, row *models.ReviewResult, obj models.ObjectRef) (exists, checked bool) {
	if r.session == nil {
		return false, false
	}
	in, ok := r.session.(engines.Inspector)
	if !ok {
		return false, false
	}
	found, err := in.ObjectExists(ctx, obj)
	if err != nil {
		if gerrors.HasCode(err, gerrors.CodeUnimplemented) {
			return false, false
		}
		row.AddMessage(models.ErrLevelError, gerrors.GetMessage(err))
		r.auditor.logger.Warn().Err(err).Str("object", obj.Key()).Msg("Object lookup failed")
		return false, true
	}
	return found, true
}

func (r *auditRun) conflict(row *models.ReviewResult, msg string) {
	row.AddMessage(models.ErrLevelError, msg)
}

// trackPLSQL records objects defined by PL/SQL units so later statements in
// the script can reference them.
func (r *auditRun) trackPLSQL(item models.SQLItem) {
	if item.ObjectType == "" || item.ObjectType == models.ObjectTypeAnonymous {
		return
	}
	obj := models.ObjectRef{Schema: item.ObjectOwner, Name: item.ObjectName, Type: item.ObjectType}
	if obj.Schema == "" {
		obj.Schema = r.schema
	}
	r.created[obj.Key()] = true
	delete(r.dropped, obj.Key())
}

func objectLabel(obj models.ObjectRef) string {
	name := obj.Name
	if obj.Schema != "" {
		name = obj.Schema + "." + obj.Name
	}
	if obj.Type == "" {
		return name
	}
	return strings.ToLower(obj.Type) + " " + name
}

// truncate shortens a statement for log fields.
func truncate(stmt string) string {
	return pool.TruncateQuery(stmt)
}
