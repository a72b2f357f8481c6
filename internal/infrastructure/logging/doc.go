// Package logging builds the slog loggers used by every fieldmesh binary.
//
// Records carry service and version attributes. Containers get JSON on
// stdout and the local demo gets text:
//
//	logging:
//	  level: info     # debug | info | warn | error
//	  format: json    # json | text
//	  output: stdout  # stdout | stderr
//
// Library packages do not import logging. They declare a narrow Logger
// interface that *Logger satisfies.
package logging
