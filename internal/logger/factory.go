// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"github.com/rs/zerolog"
)

// Static logger getters that map directly to config.yaml log.levels

func GetEngineLogger() zerolog.Logger  { return GetLogger("engine") }
func GetAgentLogger() zerolog.Logger   { return GetLogger("agent") }
func GetAuthLogger() zerolog.Logger    { return GetLogger("auth") }
func GetUploadLogger() zerolog.Logger  { return GetLogger("upload") }
func GetMonitorLogger() zerolog.Logger { return GetLogger("monitor") }
func GetBoardLogger() zerolog.Logger   { return GetLogger("board") }
func GetBackendLogger() zerolog.Logger { return GetLogger("backend") }
func GetAPILogger() zerolog.Logger     { return GetLogger("api") }
func GetPanelLogger() zerolog.Logger   { return GetLogger("panel") }
