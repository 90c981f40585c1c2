package lab

import (
	"bytes"
	"embed"
	"fmt"
	"net"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed blueprints/*.yaml
var builtinBlueprints embed.FS

type Blueprint struct {
	Name                   string                  `yaml:"name"`
	Description            string                  `yaml:"description,omitempty"`
	Vpcs                   []Vpc                   `yaml:"vpcs"`
	LoadBalancer           *LoadBalancer           `yaml:"loadBalancer,omitempty"`
	WebAcl                 *WebAcl                 `yaml:"webAcl,omitempty"`
	TransitGateways        []TransitGateway        `yaml:"transitGateways,omitempty"`
	TransitGatewayPeerings []TransitGatewayPeering `yaml:"transitGatewayPeerings,omitempty"`
	VpcPeerings            []VpcPeering            `yaml:"vpcPeerings,omitempty"`
}

type Vpc struct {
	Name            string          `yaml:"name"`
	Region          string          `yaml:"region,omitempty"`
	Cidr            string          `yaml:"cidr"`
	InternetGateway bool            `yaml:"internetGateway,omitempty"`
	Subnets         []Subnet        `yaml:"subnets"`
	NatGateways     []NatGateway    `yaml:"natGateways,omitempty"`
	RouteTables     []RouteTable    `yaml:"routeTables,omitempty"`
	SecurityGroups  []SecurityGroup `yaml:"securityGroups,omitempty"`
	NetworkAcls     []NetworkAcl    `yaml:"networkAcls,omitempty"`
	Instances       []Instance      `yaml:"instances,omitempty"`
}

type Subnet struct {
	Name      string `yaml:"name"`
	Cidr      string `yaml:"cidr"`
	Zone      string `yaml:"zone,omitempty"`
	ZoneIndex int    `yaml:"zoneIndex,omitempty"`
	Public    bool   `yaml:"public,omitempty"`
}

type NatGateway struct {
	Name   string `yaml:"name"`
	Subnet string `yaml:"subnet"`
}

type RouteTable struct {
	Name    string   `yaml:"name"`
	Main    bool     `yaml:"main,omitempty"`
	Subnets []string `yaml:"subnets,omitempty"`
	Routes  []Route  `yaml:"routes,omitempty"`
}

type Route struct {
	Destination string `yaml:"destination"`
	Target      string `yaml:"target"`
}

type RouteTargetKind string

const (
	TargetInternetGateway RouteTargetKind = "internet-gateway"
	TargetNat             RouteTargetKind = "nat"
	TargetTransitGateway  RouteTargetKind = "transit-gateway"
	TargetPeering         RouteTargetKind = "peering"
)

// ParseTarget splits a route target such as "nat:nat-a" into its kind and name.
func (r Route) ParseTarget() (RouteTargetKind, string, error) {
	if r.Target == string(TargetInternetGateway) {
		return TargetInternetGateway, "", nil
	}
	kind, name, found := strings.Cut(r.Target, ":")
	if !found || name == "" {
		return "", "", errors.Errorf("invalid route target %q", r.Target)
	}
	switch RouteTargetKind(kind) {
	case TargetNat, TargetTransitGateway, TargetPeering:
		return RouteTargetKind(kind), name, nil
	}
	return "", "", errors.Errorf("unknown route target kind %q", kind)
}

type SecurityGroup struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Ingress     []Rule `yaml:"ingress,omitempty"`
}

type Rule struct {
	Protocol string `yaml:"protocol"`
	Port     int64  `yaml:"port,omitempty"`
	ToPort   int64  `yaml:"toPort,omitempty"`
	Cidr     string `yaml:"cidr,omitempty"`
	Source   string `yaml:"source,omitempty"`
}

// PortRange returns the inclusive port range. A zero ToPort means a single port.
// All protocols, and ICMP without a port, map to -1 (everything).
func (r Rule) PortRange() (int64, int64) {
	if IsAllProtocols(r.Protocol) {
		return -1, -1
	}
	if strings.EqualFold(r.Protocol, "icmp") && r.Port == 0 && r.ToPort == 0 {
		return -1, -1
	}
	if r.ToPort == 0 {
		return r.Port, r.Port
	}
	return r.Port, r.ToPort
}

type NetworkAcl struct {
	Name    string     `yaml:"name"`
	Subnets []string   `yaml:"subnets,omitempty"`
	Entries []AclEntry `yaml:"entries"`
}

type AclEntry struct {
	Rule     int64  `yaml:"rule"`
	Egress   bool   `yaml:"egress,omitempty"`
	Protocol string `yaml:"protocol"`
	Port     int64  `yaml:"port,omitempty"`
	ToPort   int64  `yaml:"toPort,omitempty"`
	Cidr     string `yaml:"cidr"`
	Action   string `yaml:"action"`
}

func (e AclEntry) PortRange() (int64, int64) {
	return Rule{Protocol: e.Protocol, Port: e.Port, ToPort: e.ToPort}.PortRange()
}

type Instance struct {
	Name           string            `yaml:"name"`
	Subnet         string            `yaml:"subnet"`
	Type           string            `yaml:"type,omitempty"`
	Image          string            `yaml:"image,omitempty"`
	KeyName        string            `yaml:"keyName,omitempty"`
	SecurityGroups []string          `yaml:"securityGroups,omitempty"`
	PrivateIp      string            `yaml:"privateIp,omitempty"`
	UserData       string            `yaml:"userData,omitempty"`
	UserDataVars   map[string]string `yaml:"userDataVars,omitempty"`
	Wait           bool              `yaml:"wait,omitempty"`
}

type LoadBalancer struct {
	Name            string   `yaml:"name"`
	Vpc             string   `yaml:"vpc"`
	Subnets         []string `yaml:"subnets"`
	SecurityGroups  []string `yaml:"securityGroups,omitempty"`
	Port            int64    `yaml:"port,omitempty"`
	TargetPort      int64    `yaml:"targetPort,omitempty"`
	HealthCheckPath string   `yaml:"healthCheckPath,omitempty"`
	Targets         []string `yaml:"targets,omitempty"`
	Dns             *Dns     `yaml:"dns,omitempty"`
}

type Dns struct {
	ZoneId string `yaml:"zoneId"`
	Name   string `yaml:"name"`
}

type WebAcl struct {
	Name              string   `yaml:"name"`
	ManagedRuleGroups []string `yaml:"managedRuleGroups,omitempty"`
	RateLimit         int64    `yaml:"rateLimit,omitempty"`
}

type TransitGateway struct {
	Name        string                     `yaml:"name"`
	Region      string                     `yaml:"region,omitempty"`
	Asn         int64                      `yaml:"asn,omitempty"`
	Attachments []TransitGatewayAttachment `yaml:"attachments,omitempty"`
	Routes      []TransitGatewayRoute      `yaml:"routes,omitempty"`
}

type TransitGatewayAttachment struct {
	Vpc     string   `yaml:"vpc"`
	Subnets []string `yaml:"subnets"`
}

type TransitGatewayRoute struct {
	Destination string `yaml:"destination"`
	Peering     string `yaml:"peering"`
}

type TransitGatewayPeering struct {
	Name      string `yaml:"name"`
	Requester string `yaml:"requester"`
	Accepter  string `yaml:"accepter"`
}

type VpcPeering struct {
	Name      string `yaml:"name"`
	Requester string `yaml:"requester"`
	Accepter  string `yaml:"accepter"`
	// Routes adds routes to the peer CIDR in both VPCs' main route tables.
	Routes bool `yaml:"routes,omitempty"`
}

func (b *Blueprint) Vpc(name string) (*Vpc, bool) {
	for i := range b.Vpcs {
		if b.Vpcs[i].Name == name {
			return &b.Vpcs[i], true
		}
	}
	return nil, false
}

func (b *Blueprint) TransitGateway(name string) (*TransitGateway, bool) {
	for i := range b.TransitGateways {
		if b.TransitGateways[i].Name == name {
			return &b.TransitGateways[i], true
		}
	}
	return nil, false
}

// RegionOf returns the region a VPC or transit gateway lives in.
func RegionOf(region, defaultRegion string) string {
	if region == "" {
		return defaultRegion
	}
	return region
}

// Regions lists every explicit region used by the blueprint plus the default one.
func (b *Blueprint) Regions(defaultRegion string) []string {
	seen := map[string]bool{}
	var regions []string
	add := func(r string) {
		r = RegionOf(r, defaultRegion)
		if r != "" && !seen[r] {
			seen[r] = true
			regions = append(regions, r)
		}
	}
	add("")
	for _, vpc := range b.Vpcs {
		add(vpc.Region)
	}
	for _, tgw := range b.TransitGateways {
		add(tgw.Region)
	}
	return regions
}

func Parse(data []byte) (*Blueprint, error) {
	var bp Blueprint
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&bp); err != nil {
		return nil, errors.Wrap(err, "parsing blueprint")
	}
	if err := bp.Validate(); err != nil {
		return nil, err
	}
	return &bp, nil
}

// Load resolves a builtin blueprint name or reads a YAML file.
func Load(nameOrPath string) (*Blueprint, error) {
	data, err := builtinBlueprints.ReadFile(path.Join("blueprints", nameOrPath+".yaml"))
	if err != nil {
		data, err = os.ReadFile(nameOrPath)
		if err != nil {
			return nil, errors.Wrapf(err, "blueprint %q is neither builtin nor a readable file", nameOrPath)
		}
	}
	return Parse(data)
}

func BuiltinNames() ([]string, error) {
	entries, err := builtinBlueprints.ReadDir("blueprints")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		names = append(names, strings.TrimSuffix(entry.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names, nil
}

func (b *Blueprint) Render() ([]byte, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(b); err != nil {
		return nil, err
	}
	if err := encoder.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var protocolNumbers = map[string]string{
	"tcp":  "6",
	"udp":  "17",
	"icmp": "1",
	"all":  "-1",
	"-1":   "-1",
}

func IsAllProtocols(protocol string) bool {
	return protocol == "all" || protocol == "-1"
}

// ProtocolNumber maps a protocol name to the IANA number network ACLs expect.
func ProtocolNumber(protocol string) (string, error) {
	if n, ok := protocolNumbers[strings.ToLower(protocol)]; ok {
		return n, nil
	}
	if n, err := strconv.Atoi(protocol); err == nil && n >= 0 && n <= 255 {
		return protocol, nil
	}
	return "", errors.Errorf("unknown protocol %q", protocol)
}

// SecurityGroupProtocol maps a protocol name to the value security group rules expect.
func SecurityGroupProtocol(protocol string) (string, error) {
	n, err := ProtocolNumber(protocol)
	if err != nil {
		return "", err
	}
	if n == "-1" {
		return "-1", nil
	}
	return strings.ToLower(protocol), nil
}

type validator struct {
	errs []string
}

func (v *validator) addf(format string, args ...interface{}) {
	v.errs = append(v.errs, fmt.Sprintf(format, args...))
}

func (v *validator) unique(kind string, names []string) map[string]bool {
	set := map[string]bool{}
	for _, name := range names {
		if name == "" {
			v.addf("%s without a name", kind)
			continue
		}
		if set[name] {
			v.addf("duplicate %s %q", kind, name)
		}
		set[name] = true
	}
	return set
}

func (v *validator) cidr(what, cidr string) *net.IPNet {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		v.addf("%s: invalid cidr %q", what, cidr)
		return nil
	}
	return ipNet
}

func contains(outer, inner *net.IPNet) bool {
	outerOnes, _ := outer.Mask.Size()
	innerOnes, _ := inner.Mask.Size()
	return outer.Contains(inner.IP) && innerOnes >= outerOnes
}

// Validate checks names, CIDRs and references without calling any provider API.
func (b *Blueprint) Validate() error {
	v := &validator{}
	if b.Name == "" {
		v.addf("blueprint without a name")
	}
	if len(b.Vpcs) == 0 {
		v.addf("blueprint %q declares no vpcs", b.Name)
	}

	var vpcNames, instanceNames []string
	for _, vpc := range b.Vpcs {
		vpcNames = append(vpcNames, vpc.Name)
		for _, instance := range vpc.Instances {
			instanceNames = append(instanceNames, instance.Name)
		}
	}
	vpcs := v.unique("vpc", vpcNames)
	v.unique("instance", instanceNames)

	var tgwNames, tgwPeeringNames, peeringNames []string
	for _, tgw := range b.TransitGateways {
		tgwNames = append(tgwNames, tgw.Name)
	}
	for _, p := range b.TransitGatewayPeerings {
		tgwPeeringNames = append(tgwPeeringNames, p.Name)
	}
	for _, p := range b.VpcPeerings {
		peeringNames = append(peeringNames, p.Name)
	}
	tgws := v.unique("transit gateway", tgwNames)
	tgwPeerings := v.unique("transit gateway peering", tgwPeeringNames)
	peerings := v.unique("vpc peering", peeringNames)

	for _, vpc := range b.Vpcs {
		b.validateVpc(v, vpc, tgws, peerings)
	}

	if lb := b.LoadBalancer; lb != nil {
		if lb.Name == "" {
			v.addf("load balancer without a name")
		}
		vpc, ok := b.Vpc(lb.Vpc)
		if !ok {
			v.addf("load balancer %q: unknown vpc %q", lb.Name, lb.Vpc)
		} else {
			if len(lb.Subnets) < 2 {
				v.addf("load balancer %q: needs subnets in at least two zones", lb.Name)
			}
			for _, s := range lb.Subnets {
				if !vpc.hasSubnet(s) {
					v.addf("load balancer %q: unknown subnet %q in vpc %q", lb.Name, s, vpc.Name)
				}
			}
			for _, sg := range lb.SecurityGroups {
				if !vpc.hasSecurityGroup(sg) {
					v.addf("load balancer %q: unknown security group %q in vpc %q", lb.Name, sg, vpc.Name)
				}
			}
			for _, t := range lb.Targets {
				if !vpc.hasInstance(t) {
					v.addf("load balancer %q: target %q is not an instance of vpc %q", lb.Name, t, vpc.Name)
				}
			}
		}
		if lb.Dns != nil && (lb.Dns.ZoneId == "" || lb.Dns.Name == "") {
			v.addf("load balancer %q: dns needs zoneId and name", lb.Name)
		}
	}

	if b.WebAcl != nil {
		if b.LoadBalancer == nil {
			v.addf("web acl %q needs a load balancer to protect", b.WebAcl.Name)
		}
		if len(b.WebAcl.ManagedRuleGroups) == 0 && b.WebAcl.RateLimit == 0 {
			v.addf("web acl %q has no rules", b.WebAcl.Name)
		}
		if b.WebAcl.RateLimit != 0 && b.WebAcl.RateLimit < 100 {
			v.addf("web acl %q: rate limit must be at least 100", b.WebAcl.Name)
		}
	}

	for _, tgw := range b.TransitGateways {
		for _, att := range tgw.Attachments {
			vpc, ok := b.Vpc(att.Vpc)
			if !ok {
				v.addf("transit gateway %q: unknown vpc %q", tgw.Name, att.Vpc)
				continue
			}
			if vpc.Region != tgw.Region {
				v.addf("transit gateway %q: vpc %q is in another region (%q vs %q, empty is the default region)",
					tgw.Name, vpc.Name, vpc.Region, tgw.Region)
			}
			if len(att.Subnets) == 0 {
				v.addf("transit gateway %q: attachment to %q lists no subnets", tgw.Name, vpc.Name)
			}
			for _, s := range att.Subnets {
				if !vpc.hasSubnet(s) {
					v.addf("transit gateway %q: unknown subnet %q in vpc %q", tgw.Name, s, vpc.Name)
				}
			}
		}
		for _, route := range tgw.Routes {
			v.cidr(fmt.Sprintf("transit gateway %q route", tgw.Name), route.Destination)
			if !tgwPeerings[route.Peering] {
				v.addf("transit gateway %q: unknown peering %q", tgw.Name, route.Peering)
			}
		}
	}

	for _, p := range b.TransitGatewayPeerings {
		if !tgws[p.Requester] || !tgws[p.Accepter] {
			v.addf("transit gateway peering %q: unknown transit gateway", p.Name)
		} else if p.Requester == p.Accepter {
			v.addf("transit gateway peering %q: cannot peer a gateway with itself", p.Name)
		}
	}

	for _, p := range b.VpcPeerings {
		if !vpcs[p.Requester] || !vpcs[p.Accepter] {
			v.addf("vpc peering %q: unknown vpc", p.Name)
		} else if p.Requester == p.Accepter {
			v.addf("vpc peering %q: cannot peer a vpc with itself", p.Name)
		}
	}

	b.validateUserData(v)

	if len(v.errs) > 0 {
		return errors.Errorf("invalid blueprint %q:\n  %s", b.Name, strings.Join(v.errs, "\n  "))
	}
	return nil
}

func (b *Blueprint) validateVpc(v *validator, vpc Vpc, tgws, peerings map[string]bool) {
	vpcNet := v.cidr(fmt.Sprintf("vpc %q", vpc.Name), vpc.Cidr)

	var subnetNames, natNames, rtNames, sgNames, aclNames []string
	for _, s := range vpc.Subnets {
		subnetNames = append(subnetNames, s.Name)
	}
	for _, n := range vpc.NatGateways {
		natNames = append(natNames, n.Name)
	}
	for _, rt := range vpc.RouteTables {
		rtNames = append(rtNames, rt.Name)
	}
	for _, sg := range vpc.SecurityGroups {
		sgNames = append(sgNames, sg.Name)
	}
	for _, acl := range vpc.NetworkAcls {
		aclNames = append(aclNames, acl.Name)
	}
	v.unique(fmt.Sprintf("subnet in vpc %q", vpc.Name), subnetNames)
	nats := v.unique(fmt.Sprintf("nat gateway in vpc %q", vpc.Name), natNames)
	v.unique(fmt.Sprintf("route table in vpc %q", vpc.Name), rtNames)
	sgs := v.unique(fmt.Sprintf("security group in vpc %q", vpc.Name), sgNames)
	v.unique(fmt.Sprintf("network acl in vpc %q", vpc.Name), aclNames)

	for _, s := range vpc.Subnets {
		subnetNet := v.cidr(fmt.Sprintf("subnet %q", s.Name), s.Cidr)
		if vpcNet != nil && subnetNet != nil && !contains(vpcNet, subnetNet) {
			v.addf("subnet %q: %s is outside vpc %q (%s)", s.Name, s.Cidr, vpc.Name, vpc.Cidr)
		}
		if s.ZoneIndex < 0 {
			v.addf("subnet %q: negative zone index", s.Name)
		}
	}

	for _, n := range vpc.NatGateways {
		if !vpc.hasSubnet(n.Subnet) {
			v.addf("nat gateway %q: unknown subnet %q", n.Name, n.Subnet)
		}
	}

	mains := 0
	associated := map[string]string{}
	for _, rt := range vpc.RouteTables {
		if rt.Main {
			mains++
		}
		for _, s := range rt.Subnets {
			if !vpc.hasSubnet(s) {
				v.addf("route table %q: unknown subnet %q", rt.Name, s)
			}
			if other, ok := associated[s]; ok {
				v.addf("subnet %q is associated with route tables %q and %q", s, other, rt.Name)
			}
			associated[s] = rt.Name
		}
		for _, route := range rt.Routes {
			v.cidr(fmt.Sprintf("route table %q route", rt.Name), route.Destination)
			kind, name, err := route.ParseTarget()
			if err != nil {
				v.addf("route table %q: %s", rt.Name, err)
				continue
			}
			switch kind {
			case TargetInternetGateway:
				if !vpc.InternetGateway {
					v.addf("route table %q: vpc %q has no internet gateway", rt.Name, vpc.Name)
				}
			case TargetNat:
				if !nats[name] {
					v.addf("route table %q: unknown nat gateway %q", rt.Name, name)
				}
			case TargetTransitGateway:
				if !tgws[name] {
					v.addf("route table %q: unknown transit gateway %q", rt.Name, name)
				}
			case TargetPeering:
				if !peerings[name] {
					v.addf("route table %q: unknown vpc peering %q", rt.Name, name)
				}
			}
		}
	}
	if mains > 1 {
		v.addf("vpc %q: more than one main route table", vpc.Name)
	}

	for _, sg := range vpc.SecurityGroups {
		if strings.EqualFold(sg.Name, "default") {
			v.addf("security group name %q is reserved", sg.Name)
		}
		for _, rule := range sg.Ingress {
			if _, err := SecurityGroupProtocol(rule.Protocol); err != nil {
				v.addf("security group %q: %s", sg.Name, err)
			}
			if (rule.Cidr == "") == (rule.Source == "") {
				v.addf("security group %q: a rule needs exactly one of cidr or source", sg.Name)
			}
			if rule.Cidr != "" {
				v.cidr(fmt.Sprintf("security group %q rule", sg.Name), rule.Cidr)
			}
			if rule.Source != "" && !sgs[rule.Source] {
				v.addf("security group %q: unknown source group %q", sg.Name, rule.Source)
			}
			from, to := rule.PortRange()
			if from > to {
				v.addf("security group %q: port range %d-%d is reversed", sg.Name, from, to)
			}
		}
	}

	for _, acl := range vpc.NetworkAcls {
		for _, s := range acl.Subnets {
			if !vpc.hasSubnet(s) {
				v.addf("network acl %q: unknown subnet %q", acl.Name, s)
			}
		}
		for _, e := range acl.Entries {
			if e.Rule < 1 || e.Rule > 32766 {
				v.addf("network acl %q: rule number %d out of range 1-32766", acl.Name, e.Rule)
			}
			if _, err := ProtocolNumber(e.Protocol); err != nil {
				v.addf("network acl %q: %s", acl.Name, err)
			}
			if e.Action != "allow" && e.Action != "deny" {
				v.addf("network acl %q: action must be allow or deny, got %q", acl.Name, e.Action)
			}
			v.cidr(fmt.Sprintf("network acl %q entry", acl.Name), e.Cidr)
		}
	}

	for _, instance := range vpc.Instances {
		if !vpc.hasSubnet(instance.Subnet) {
			v.addf("instance %q: unknown subnet %q", instance.Name, instance.Subnet)
		}
		for _, sg := range instance.SecurityGroups {
			if !sgs[sg] {
				v.addf("instance %q: unknown security group %q", instance.Name, sg)
			}
		}
		if instance.PrivateIp != "" && net.ParseIP(instance.PrivateIp) == nil {
			v.addf("instance %q: invalid private ip %q", instance.Name, instance.PrivateIp)
		}
		if instance.Image != "" && !IsImageId(instance.Image) {
			if _, ok := ImageFamilies[instance.Image]; !ok {
				v.addf("instance %q: unknown image %q", instance.Name, instance.Image)
			}
		}
	}
}

// validateUserData renders every instance's user data in provisioning order,
// so privateIp may only name instances declared before the one using it.
func (b *Blueprint) validateUserData(v *validator) {
	declared := map[string]bool{}
	for _, vpc := range b.Vpcs {
		for _, instance := range vpc.Instances {
			name := instance.Name
			lookup := func(ref string) (string, error) {
				if !declared[ref] {
					return "", errors.Errorf("instance %q is not declared before %q", ref, name)
				}
				return "192.0.2.1", nil
			}
			if _, err := RenderUserData(instance, lookup); err != nil {
				v.addf("instance %q: %s", instance.Name, err)
			}
			declared[name] = true
		}
	}
}

func (vpc *Vpc) hasSubnet(name string) bool {
	for _, s := range vpc.Subnets {
		if s.Name == name {
			return true
		}
	}
	return false
}

func (vpc *Vpc) hasSecurityGroup(name string) bool {
	for _, sg := range vpc.SecurityGroups {
		if sg.Name == name {
			return true
		}
	}
	return false
}

func (vpc *Vpc) hasInstance(name string) bool {
	for _, i := range vpc.Instances {
		if i.Name == name {
			return true
		}
	}
	return false
}
