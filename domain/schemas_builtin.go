package domain

// Built-in journable kinds.
const (
	KindWorkPackage = "work_package"
	KindNews        = "news"
	KindWikiContent = "wiki_content"
	KindMessage     = "message"
	KindTimeEntry   = "time_entry"
	KindAttachment  = "attachment"
	KindChangeset   = "changeset"
)

func journaled(name string, t FieldType) Field {
	return Field{Name: name, Type: t, Journaled: true}
}

func required(name string, t FieldType) Field {
	return Field{Name: name, Type: t, Journaled: true, Required: true}
}

func technical(name string, t FieldType) Field {
	return Field{Name: name, Type: t}
}

func attachmentsOf(containerType string) AssociationSpec {
	return AssociationSpec{
		Name: "attachments",
		Source: &AssociationSource{
			Table:       "attachments",
			OwnerColumn: "container_id",
			KeyColumn:   "id",
			ValueColumn: "filename",
			TypeColumn:  "container_type",
			TypeValue:   containerType,
		},
	}
}

func customFieldsOf(customizedType string) AssociationSpec {
	return AssociationSpec{
		Name:  "custom_fields",
		Keyed: true,
		Source: &AssociationSource{
			Table:       "custom_values",
			OwnerColumn: "customized_id",
			KeyColumn:   "custom_field_id",
			ValueColumn: "value",
			TypeColumn:  "customized_type",
			TypeValue:   customizedType,
		},
	}
}

// BuiltinSchemas returns the declarations of the journable kinds shipped with the service.
func BuiltinSchemas() []Schema {
	return []Schema{
		{
			Kind:  KindWorkPackage,
			Table: "work_packages",
			Fields: []Field{
				technical("id", FieldInteger),
				technical("lock_version", FieldInteger),
				technical("updated_at", FieldDateTime),
				required("type_id", FieldReference),
				required("project_id", FieldReference),
				required("subject", FieldString),
				journaled("description", FieldText),
				journaled("due_date", FieldDate),
				journaled("category_id", FieldReference),
				required("status_id", FieldReference),
				journaled("assigned_to_id", FieldReference),
				required("priority_id", FieldReference),
				journaled("version_id", FieldReference),
				required("author_id", FieldReference),
				journaled("done_ratio", FieldInteger),
				journaled("estimated_hours", FieldFloat),
				journaled("start_date", FieldDate),
				journaled("parent_id", FieldReference),
				journaled("responsible_id", FieldReference),
				journaled("schedule_manually", FieldBoolean),
			},
			Associations: []AssociationSpec{
				attachmentsOf("WorkPackage"),
				customFieldsOf("WorkPackage"),
			},
			Checksum: []ChecksumReference{
				{Column: "status_id", Table: "statuses", UpdatedColumn: "updated_at"},
				{Column: "author_id", Table: "users", UpdatedColumn: "updated_on"},
				{Column: "responsible_id", Table: "users", UpdatedColumn: "updated_on"},
				{Column: "assigned_to_id", Table: "users", UpdatedColumn: "updated_on"},
				{Column: "version_id", Table: "versions", UpdatedColumn: "updated_on"},
				{Column: "type_id", Table: "types", UpdatedColumn: "updated_at"},
				{Column: "priority_id", Table: "enumerations", UpdatedColumn: "updated_at"},
				{Column: "category_id", Table: "categories", UpdatedColumn: "updated_at"},
			},
		},
		{
			Kind:  KindNews,
			Table: "news",
			Fields: []Field{
				technical("id", FieldInteger),
				technical("updated_on", FieldDateTime),
				required("project_id", FieldReference),
				required("title", FieldString),
				journaled("summary", FieldText),
				journaled("description", FieldText),
				required("author_id", FieldReference),
				journaled("comments_count", FieldInteger),
			},
			Checksum: []ChecksumReference{
				{Column: "author_id", Table: "users", UpdatedColumn: "updated_on"},
			},
		},
		{
			Kind:  KindWikiContent,
			Table: "wiki_contents",
			Fields: []Field{
				technical("id", FieldInteger),
				technical("lock_version", FieldInteger),
				technical("updated_on", FieldDateTime),
				required("page_id", FieldReference),
				journaled("author_id", FieldReference),
				journaled("text", FieldText),
			},
			Associations: []AssociationSpec{attachmentsOf("WikiPage")},
			Checksum: []ChecksumReference{
				{Column: "author_id", Table: "users", UpdatedColumn: "updated_on"},
			},
		},
		{
			Kind:  KindMessage,
			Table: "messages",
			Fields: []Field{
				technical("id", FieldInteger),
				technical("updated_on", FieldDateTime),
				required("forum_id", FieldReference),
				journaled("parent_id", FieldReference),
				required("subject", FieldString),
				journaled("content", FieldText),
				journaled("author_id", FieldReference),
				journaled("last_reply_id", FieldReference),
				journaled("locked", FieldBoolean),
				journaled("sticky", FieldInteger),
			},
			Associations: []AssociationSpec{attachmentsOf("Message")},
		},
		{
			Kind:  KindTimeEntry,
			Table: "time_entries",
			Fields: []Field{
				technical("id", FieldInteger),
				technical("updated_on", FieldDateTime),
				required("project_id", FieldReference),
				required("user_id", FieldReference),
				journaled("work_package_id", FieldReference),
				required("hours", FieldFloat),
				journaled("comments", FieldString),
				required("activity_id", FieldReference),
				required("spent_on", FieldDate),
				journaled("tyear", FieldInteger),
				journaled("tmonth", FieldInteger),
				journaled("tweek", FieldInteger),
			},
			Associations: []AssociationSpec{customFieldsOf("TimeEntry")},
			Checksum: []ChecksumReference{
				{Column: "user_id", Table: "users", UpdatedColumn: "updated_on"},
			},
		},
		{
			Kind:  KindAttachment,
			Table: "attachments",
			Fields: []Field{
				technical("id", FieldInteger),
				technical("updated_at", FieldDateTime),
				journaled("container_id", FieldReference),
				journaled("container_type", FieldString),
				required("filename", FieldString),
				journaled("disk_filename", FieldString),
				journaled("filesize", FieldInteger),
				journaled("content_type", FieldString),
				journaled("digest", FieldString),
				journaled("downloads", FieldInteger),
				required("author_id", FieldReference),
				journaled("description", FieldText),
			},
		},
		{
			Kind:  KindChangeset,
			Table: "changesets",
			Fields: []Field{
				technical("id", FieldInteger),
				required("repository_id", FieldReference),
				required("revision", FieldString),
				journaled("committer", FieldString),
				required("committed_on", FieldDateTime),
				journaled("comments", FieldText),
				journaled("commit_date", FieldDate),
				journaled("scmid", FieldString),
				journaled("user_id", FieldReference),
			},
		},
	}
}

// DefaultRegistry returns a registry populated with the built-in kinds.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, s := range BuiltinSchemas() {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
	return r
}
