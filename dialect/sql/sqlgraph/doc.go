// Package sqlgraph renders storage operations as SQL statements and maps
// driver errors to the modelkit error taxonomy.
package sqlgraph
