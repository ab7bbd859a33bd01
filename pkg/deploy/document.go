package deploy

/*
	notifier --> polls deployment files and reports the ones whose modification time moved forward.
	registry --> binds the datasources of a deployment into the naming context, unbinds them on undeploy.

	** Usage
	1 - create a pool registry, a naming context with the pool and connector factories, and a registry.
	2 - create a notifier and a deployer over them, deploy descriptor files.
	3 - start the notifier; a changed file is undeployed and deployed again on the next poll.
*/
