package wsliveness

/*************************************************************************************************/
/* TRACING RELATED CONSTANTS                                                                     */
/*************************************************************************************************/

// Constants used for tracing purpose.
const (
	// Package name used by library tracer
	pkgName = "wsliveness"
	// Package version
	pkgVersion = "0.0.0"

	// Namespace used by spans, events and attributes
	namespace = "wsliveness"

	// Name of span used to trace a liveness tick
	spanTick = namespace + ".tick"

	// Event used in span to signal a connection has been evicted
	eventEvicted = namespace + ".evicted"

	// Attribute used to store the number of connections in the snapshot
	attrSnapshotSize = namespace + ".snapshot_size"
	// Attribute used to store the number of connections pinged during the tick
	attrPinged = namespace + ".pinged"
	// Attribute used to store the number of connections evicted during the tick
	attrEvicted = namespace + ".evicted_count"
	// Attribute used to store a connection ID
	attrConnectionId = namespace + ".connection_id"
)
