package models

// Instance describes one target database instance (the connection info).
type Instance struct {
	Name          string            `yaml:"name" json:"name" mapstructure:"name"`
	DBType        string            `yaml:"db_type" json:"db_type" mapstructure:"db_type"`
	Host          string            `yaml:"host" json:"host" mapstructure:"host"`
	Port          int               `yaml:"port" json:"port" mapstructure:"port"`
	User          string            `yaml:"user" json:"user" mapstructure:"user"`
	Password      string            `yaml:"password" json:"-" mapstructure:"password"`
	DefaultSchema string            `yaml:"default_schema" json:"default_schema" mapstructure:"default_schema"`
	Options       map[string]string `yaml:"options" json:"options,omitempty" mapstructure:"options"`
}

// Option returns an engine specific option or def.
func (i Instance) Option(key, def string) string {
	if v, ok := i.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// ObjectRef names a database object referenced by a statement.
type ObjectRef struct {
	Schema string `json:"schema,omitempty"`
	Name   string `json:"name"`
	// Type is the object keyword, e.g. TABLE, VIEW, INDEX.
	Type string `json:"type,omitempty"`
}

// Key returns a case-folded identity used for in-script tracking.
func (o ObjectRef) Key() string {
	return foldIdent(o.Schema) + "." + foldIdent(o.Name)
}

// Table is a table or view listed by an inspector.
type Table struct {
	SchemaName string `json:"schema_name"`
	Name       string `json:"name"`
	Type       string `json:"type"`
}

func foldIdent(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
