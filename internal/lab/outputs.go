package lab

import "github.com/pkg/errors"

const (
	KindVpc                   = "vpc"
	KindSubnet                = "subnet"
	KindInternetGateway       = "internet-gateway"
	KindElasticIp             = "elastic-ip"
	KindNatGateway            = "nat-gateway"
	KindRouteTable            = "route-table"
	KindSecurityGroup         = "security-group"
	KindNetworkAcl            = "network-acl"
	KindInstance              = "instance"
	KindTargetGroup           = "target-group"
	KindLoadBalancer          = "load-balancer"
	KindListener              = "listener"
	KindDnsRecord             = "dns-record"
	KindWebAcl                = "web-acl"
	KindTransitGateway        = "transit-gateway"
	KindTransitGatewayAttach  = "transit-gateway-attachment"
	KindTransitGatewayPeering = "transit-gateway-peering"
	KindVpcPeeringConnection  = "vpc-peering"
)

// Record is one created resource.
type Record struct {
	Region    string
	Kind      string
	Name      string
	Id        string
	PrivateIp string
	Endpoint  string
}

// Outputs keeps created resources in creation order.
type Outputs struct {
	Records []Record
}

func (o *Outputs) Add(r Record) {
	o.Records = append(o.Records, r)
}

func (o *Outputs) Get(kind, name string) (Record, bool) {
	for _, r := range o.Records {
		if r.Kind == kind && r.Name == name {
			return r, true
		}
	}
	return Record{}, false
}

func (o *Outputs) MustGet(kind, name string) (Record, error) {
	r, ok := o.Get(kind, name)
	if !ok {
		return Record{}, errors.Errorf("%s %q was not created", kind, name)
	}
	return r, nil
}

func (o *Outputs) ByKind(kind string) (records []Record) {
	for _, r := range o.Records {
		if r.Kind == kind {
			records = append(records, r)
		}
	}
	return
}

func (o *Outputs) Rows() (rows [][]string) {
	for _, r := range o.Records {
		rows = append(rows, []string{r.Region, r.Kind, r.Name, r.Id, r.PrivateIp, r.Endpoint})
	}
	return
}

var OutputsHeader = []string{"Region", "Kind", "Name", "Id", "Private IP", "Endpoint"}
