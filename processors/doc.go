// Package processors holds one core.Processor per submission kind. Every
// processor resolves all mandatory references before it writes, and writes
// only through the unit of work it is handed.
package processors
