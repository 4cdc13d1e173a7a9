package leadcache

import "time"

const (
	DefaultTTL         = 30 * time.Minute
	DefaultMaxEntries  = 100
	DefaultSizeCeiling = 4 * 1024 * 1024

	// SchemaVersion tags every persisted document; any other version reads as absent.
	SchemaVersion = 1
)

type Namespace string

const (
	NamespaceLeads    Namespace = "leads"
	NamespaceDetails  Namespace = "details"
	NamespaceComments Namespace = "comments"
	NamespaceTasks    Namespace = "tasks"
)

var storageKeys = map[Namespace]string{
	NamespaceLeads:    "crm_leads_cache",
	NamespaceDetails:  "crm_lead_details_cache",
	NamespaceComments: "crm_comments_cache",
	NamespaceTasks:    "crm_tasks_cache",
}

// Namespaces lists every namespace, collection first.
func Namespaces() []Namespace {
	return []Namespace{NamespaceLeads, NamespaceDetails, NamespaceComments, NamespaceTasks}
}

func perLeadNamespaces() []Namespace {
	return []Namespace{NamespaceDetails, NamespaceComments, NamespaceTasks}
}

func (n Namespace) StorageKey() string {
	return storageKeys[n]
}

func (n Namespace) Valid() bool {
	_, ok := storageKeys[n]
	return ok
}

func ParseNamespace(input string) (Namespace, bool) {
	n := Namespace(input)
	return n, n.Valid()
}

type Options struct {
	TTL         time.Duration
	MaxEntries  int
	SizeCeiling int64
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	if o.SizeCeiling <= 0 {
		o.SizeCeiling = DefaultSizeCeiling
	}
	return o
}
