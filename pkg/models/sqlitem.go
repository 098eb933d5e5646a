package models

// StmtType tells plain SQL apart from PL/SQL units.
type StmtType string

const (
	StmtTypeSQL   StmtType = "SQL"
	StmtTypePLSQL StmtType = "PLSQL"
)

// ObjectTypeAnonymous marks DECLARE/BEGIN blocks.
const ObjectTypeAnonymous = "ANONYMOUS"

// SQLItem is one classified executable unit.
type SQLItem struct {
	Statement   string   `json:"statement"`
	StmtType    StmtType `json:"stmt_type"`
	ObjectOwner string   `json:"object_owner,omitempty"`
	ObjectType  string   `json:"object_type,omitempty"`
	ObjectName  string   `json:"object_name,omitempty"`
}

// IsPLSQL reports whether the item is a PL/SQL unit.
func (i SQLItem) IsPLSQL() bool {
	return i.StmtType == StmtTypePLSQL
}
