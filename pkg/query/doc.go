/*
Package query compiles the search DSL and executes compiled queries
against the store.

The DSL is words plus typed filters:

	report* ext:pdf size:>10mb modified:lastweek path:C:\Projects type:file

Words match names as substrings; * and ? are wildcards. Filters are
ext:, size: (with b/kb/mb/gb/tb units), modified: (ISO dates or the
relative keywords today/yesterday/lastweek/lastmonth/lastyear, resolved at
parse time), type:file|dir, and path: for a Windows drive-path scope.
Tokens with embedded colons that are not filter introducers are rejected;
drive paths are only recognized inside path: values.

Lowering maps wildcards to LIKE patterns with %, _ and \ escaped, and
comparators to parameterized predicates on size and modified_at. Path
scope cannot be pushed into the index — the store holds parent links, not
flat paths — so the executor applies it as a post-filter on reconstructed
paths, paging the index scan and bounding it at a scan cap.

Parse errors carry the byte position of the offending token and flow back
to the IPC caller; they are not logged at error level.
*/
package query
