package cleaner

import (
	"labctl/internal/lab"
	"labctl/internal/logging"
)

// TeardownPlan returns one cleaner per teardown step, dependents first.
func TeardownPlan(poller lab.Poller) []lab.Cleaner {
	return []lab.Cleaner{
		&WebAcls{Poller: poller},
		&DnsRecords{},
		&LoadBalancers{Poller: poller},
		&TargetGroups{Poller: poller},
		&Instances{Poller: poller},
		&TransitRoutes{},
		&VpcPeerings{Poller: poller},
		&TransitGatewayAttachments{Poller: poller},
		&TransitGateways{Poller: poller},
		&NetworkAcls{Poller: poller},
		&SecurityGroups{Poller: poller},
		&NatGateways{Poller: poller},
		&RouteTables{Poller: poller},
		&InternetGateways{Poller: poller},
		&Subnets{Poller: poller},
		&Vpcs{Poller: poller},
	}
}

func printResources(kind string, names []string) {
	logging.UserInfo("%s:", kind)
	for _, name := range names {
		logging.UserInfo("\t- %s", name)
	}
}
