package protocol

// RPC method name constants. Methods are dotted identifiers routed by the
// gateway's method router (internal/gateway).
const (
	MethodConnect = "connect"
	MethodHealth  = "health"
	MethodStatus  = "status"

	MethodConfigGet    = "config.get"
	MethodConfigSchema = "config.schema"
	MethodConfigApply  = "config.apply"
	MethodConfigPatch  = "config.patch"

	MethodUpdateRun = "update.run"

	MethodRestartSchedule = "restart.schedule"

	MethodMCPPresetsList      = "mcp.presets.list"
	MethodMCPProvidersSnap    = "mcp.providers.snapshot"
	MethodMCPProvidersApply   = "mcp.providers.apply"
	MethodMCPMarketSearch     = "mcp.market.search"
	MethodMCPMarketDetail     = "mcp.market.detail"
	MethodMCPMarketInstall    = "mcp.market.install"
	MethodMCPMarketUninstall  = "mcp.market.uninstall"
	MethodMCPMarketRefresh    = "mcp.market.refresh"

	MethodToolsList = "tools.list"
	MethodToolsCall = "tools.call"

	MethodChannelsStatus      = "channels.status"
	MethodChannelsList        = "channels.list"
	MethodChannelsAdd         = "channels.add"
	MethodChannelsRemove      = "channels.remove"
	MethodChannelsLogin       = "channels.login"
	MethodChannelsLogout      = "channels.logout"
	MethodChannelsCapabilities = "channels.capabilities"
	MethodChannelsResolve     = "channels.resolve"
	MethodChannelsLogs        = "channels.logs"

	MethodPairingList    = "pairing.list"
	MethodPairingApprove = "pairing.approve"

	MethodSkillsList      = "skills.list"
	MethodSkillsStatus    = "skills.status"
	MethodSkillsBins      = "skills.bins"
	MethodSkillsInstall   = "skills.install"
	MethodSkillsUpdate    = "skills.update"
	MethodSkillsUninstall = "skills.uninstall"

	// oauth.<provider>.{start,poll,complete} has no fixed constant: the
	// gateway's MethodRouter sends any method with this prefix to the
	// handler installed with RegisterOAuth.
	MethodOAuthPrefix = "oauth."
)
