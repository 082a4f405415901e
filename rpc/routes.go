package rpc

func (s *Server) routes() map[string]method {
	return map[string]method{
		"subscription_initConfig":                {auth: true, fn: s.handleInitConfig},
		"subscription_updateConfig":              {auth: true, fn: s.handleUpdateConfig},
		"subscription_transferPlatformAuthority": {auth: true, fn: s.handleTransferPlatformAuthority},
		"subscription_setPaused":                 {auth: true, fn: s.handleSetPaused},
		"subscription_initPayee":                 {auth: true, fn: s.handleInitPayee},
		"subscription_updatePayeeFee":            {auth: true, fn: s.handleUpdatePayeeFee},
		"subscription_createTerms":               {auth: true, fn: s.handleCreateTerms},
		"subscription_updateTerms":               {auth: true, fn: s.handleUpdateTerms},
		"subscription_deactivateTerms":           {auth: true, fn: s.handleDeactivateTerms},
		"subscription_start":                     {auth: true, fn: s.handleStart},
		"subscription_execute":                   {auth: true, fn: s.handleExecute},
		"subscription_pause":                     {auth: true, fn: s.handlePause},
		"subscription_resume":                    {auth: true, fn: s.handleResume},
		"subscription_close":                     {auth: true, fn: s.handleClose},

		"bank_openAccount":     {auth: true, fn: s.handleOpenAccount},
		"bank_mint":            {auth: true, fn: s.handleMint},
		"bank_fundDeposits":    {auth: true, fn: s.handleFundDeposits},
		"bank_transfer":        {auth: true, fn: s.handleTransfer},
		"bank_grantAllowance":  {auth: true, fn: s.handleGrantAllowance},
		"bank_revokeAllowance": {auth: true, fn: s.handleRevokeAllowance},

		"subscription_getConfig":       {fn: s.handleGetConfig},
		"subscription_getPayee":        {fn: s.handleGetPayee},
		"subscription_getTerms":        {fn: s.handleGetTerms},
		"subscription_getAgreement":    {fn: s.handleGetAgreement},
		"subscription_listTerms":       {fn: s.handleListTerms},
		"subscription_listAgreements":  {fn: s.handleListAgreements},
		"subscription_dueAgreements":   {fn: s.handleDueAgreements},
		"subscription_deriveAddresses": {fn: s.handleDeriveAddresses},
		"bank_getAccount":              {fn: s.handleGetAccount},
		"bank_depositBalance":          {fn: s.handleDepositBalance},
		"events_since":                 {fn: s.handleEventsSince},
		"events_history":               {fn: s.handleEventsHistory},
	}
}
