// Package log provides structured logging for genesis-compute services
// using zerolog.
//
// A single package-level Logger is configured once via Init and every
// long-running service (scheduler, pool builder, pool agent, boot API)
// derives a child logger from it with WithComponent, carrying a
// "component" field through every subsequent log line. WithNodeID,
// WithMachineID and WithPoolID add the corresponding identifier field
// when a log line is about one specific entity.
package log
