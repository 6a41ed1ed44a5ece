// Package cache defines the namespaced response store used by the interception
// layer. A Store holds named partitions (one per purpose and cache version);
// each Namespace maps a GET request identity to a fully materialized response
// snapshot. Three backends are provided: a filesystem layout
// (StoragePath/<namespace>/<sha1>.entry, temp file + rename), a SQLite database,
// and an in-memory map for tests and ephemeral runs. Strategies never touch the
// filesystem or SQL directly; they only see Store and Namespace.
package cache
