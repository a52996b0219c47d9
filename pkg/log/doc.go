/*
Package log provides structured logging for the update client using
zerolog. It wraps a single package-level zerolog.Logger, configurable at
startup via Init, plus a handful of With* helpers that attach the context
fields this codebase's components log by most often: component name,
deployment ID, update module name, and deployment-machine state.

Initialization:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component and context loggers:

	schedLog := log.WithComponent("scheduler")
	schedLog.Info().Msg("loop started")

	depLog := log.WithDeploymentID(sd.UpdateInfo.ID)
	depLog.Info().Str("state", string(sd.Name)).Msg("entering state")

Logs default to a human-readable console writer; set JSONOutput: true for
JSON output. As with any structured logger, never log
artifact payload bytes, auth tokens, or TLS private key material --
reference them by size or fingerprint instead.
*/
package log
