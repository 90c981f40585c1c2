package lab

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lithammer/dedent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinBlueprintsAreValid(t *testing.T) {
	names, err := BuiltinNames()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"exam-multi-az",
		"exam-vpc",
		"juice-shop-waf",
		"monitoring",
		"peering-tgw-hybrid",
		"strict-nacl",
		"three-tier",
		"transit-gateway-3vpcs",
	}, names)

	for _, name := range names {
		bp, err := Load(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, bp.Name)
		assert.NotEmpty(t, bp.Description, name)
	}
}

func TestRenderRoundTrip(t *testing.T) {
	bp, err := Load("three-tier")
	require.NoError(t, err)
	data, err := bp.Render()
	require.NoError(t, err)

	again, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, bp, again)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny.yaml")
	require.NoError(t, os.WriteFile(path, []byte(dedent.Dedent(`
		name: tiny
		vpcs:
		  - name: tiny-vpc
		    cidr: 10.9.0.0/16
		    subnets:
		      - name: only
		        cidr: 10.9.0.0/24
	`)), 0o600))

	bp, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tiny", bp.Name)
	assert.Equal(t, []string{"eu-west-1"}, bp.Regions("eu-west-1"))

	_, err = Load("no-such-blueprint")
	assert.Error(t, err)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte(dedent.Dedent(`
		name: typo
		vpcs:
		  - name: v
		    cidr: 10.0.0.0/16
		    subnet: []
	`)))
	assert.Error(t, err)
}

func TestRegions(t *testing.T) {
	bp, err := Load("peering-tgw-hybrid")
	require.NoError(t, err)
	regions := bp.Regions("us-east-1")
	require.NotEmpty(t, regions)
	assert.Equal(t, "us-east-1", regions[0])
	assert.Equal(t, "eu-west-1", RegionOf("", "eu-west-1"))
	assert.Equal(t, "us-west-2", RegionOf("us-west-2", "eu-west-1"))
}

func TestValidateReportsEveryProblem(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "subnet outside vpc",
			yaml: `
				name: bad
				vpcs:
				  - name: v
				    cidr: 10.0.0.0/16
				    subnets:
				      - name: s
				        cidr: 10.1.0.0/24
			`,
			want: []string{`subnet "s": 10.1.0.0/24 is outside vpc "v"`},
		},
		{
			name: "duplicate names and bad cidr",
			yaml: `
				name: bad
				vpcs:
				  - name: v
				    cidr: 10.0.0.0/33
				    subnets:
				      - name: s
				        cidr: 10.0.0.0/24
				      - name: s
				        cidr: 10.0.1.0/24
			`,
			want: []string{`invalid cidr "10.0.0.0/33"`, `duplicate subnet in vpc "v" "s"`},
		},
		{
			name: "route targets",
			yaml: `
				name: bad
				vpcs:
				  - name: v
				    cidr: 10.0.0.0/16
				    subnets:
				      - name: s
				        cidr: 10.0.0.0/24
				    routeTables:
				      - name: rt
				        subnets: [s, ghost]
				        routes:
				          - destination: 0.0.0.0/0
				            target: internet-gateway
				          - destination: 10.1.0.0/16
				            target: nat:missing
				          - destination: 10.2.0.0/16
				            target: vpn:x
			`,
			want: []string{
				`unknown subnet "ghost"`,
				`vpc "v" has no internet gateway`,
				`unknown nat gateway "missing"`,
				`unknown route target kind "vpn"`,
			},
		},
		{
			name: "security group and acl rules",
			yaml: `
				name: bad
				vpcs:
				  - name: v
				    cidr: 10.0.0.0/16
				    subnets:
				      - name: s
				        cidr: 10.0.0.0/24
				    securityGroups:
				      - name: default
				      - name: web
				        ingress:
				          - protocol: tcp
				            port: 80
				          - protocol: sctp
				            port: 1
				            cidr: 0.0.0.0/0
				          - protocol: tcp
				            port: 90
				            toPort: 80
				            source: nobody
				    networkAcls:
				      - name: acl
				        entries:
				          - rule: 40000
				            protocol: tcp
				            cidr: 0.0.0.0/0
				            action: reject
			`,
			want: []string{
				`security group name "default" is reserved`,
				`a rule needs exactly one of cidr or source`,
				`unknown protocol "sctp"`,
				`unknown source group "nobody"`,
				`port range 90-80 is reversed`,
				`rule number 40000 out of range 1-32766`,
				`action must be allow or deny, got "reject"`,
			},
		},
		{
			name: "load balancer, web acl and peerings",
			yaml: `
				name: bad
				vpcs:
				  - name: v
				    cidr: 10.0.0.0/16
				    subnets:
				      - name: s
				        cidr: 10.0.0.0/24
				loadBalancer:
				  name: alb
				  vpc: v
				  subnets: [s]
				  targets: [web]
				webAcl:
				  name: waf
				  rateLimit: 10
				transitGateways:
				  - name: tgw
				    attachments:
				      - vpc: w
				        subnets: [s]
				transitGatewayPeerings:
				  - name: loop
				    requester: tgw
				    accepter: tgw
				vpcPeerings:
				  - name: p
				    requester: v
				    accepter: nowhere
			`,
			want: []string{
				`needs subnets in at least two zones`,
				`target "web" is not an instance of vpc "v"`,
				`rate limit must be at least 100`,
				`transit gateway "tgw": unknown vpc "w"`,
				`cannot peer a gateway with itself`,
				`vpc peering "p": unknown vpc`,
			},
		},
		{
			name: "unresolved regions, images and private ips",
			yaml: `
				name: bad
				vpcs:
				  - name: v
				    cidr: 10.0.0.0/16
				    subnets:
				      - name: s
				        cidr: 10.0.0.0/24
				    instances:
				      - name: grafana
				        subnet: s
				        userData: grafana
				        userDataVars:
				          prometheus: prometheus
				      - name: prometheus
				        subnet: s
				        image: windows-95
				        userData: prometheus
				      - name: web
				        subnet: s
				        userData: "curl http://{{ privateIp \"ghost\" }}"
				transitGateways:
				  - name: tgw
				    region: us-west-2
				    attachments:
				      - vpc: v
				        subnets: [s]
			`,
			want: []string{
				`transit gateway "tgw": vpc "v" is in another region`,
				`instance "prometheus": unknown image "windows-95"`,
				`instance "prometheus" is not declared before "grafana"`,
				`userDataVars.target is required`,
				`instance "ghost" is not declared before "web"`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(dedent.Dedent(tt.yaml)))
			require.Error(t, err)
			for _, want := range tt.want {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestUserDataMayReferenceEarlierInstances(t *testing.T) {
	bp, err := Parse([]byte(dedent.Dedent(`
		name: ok
		vpcs:
		  - name: exporters
		    cidr: 10.0.0.0/16
		    subnets:
		      - name: s
		        cidr: 10.0.0.0/24
		    instances:
		      - name: node
		        subnet: s
		        image: ami-0123456789abcdef0
		        userData: node-exporter
		  - name: monitors
		    cidr: 10.1.0.0/16
		    subnets:
		      - name: s
		        cidr: 10.1.0.0/24
		    instances:
		      - name: prometheus
		        subnet: s
		        image: ubuntu-22.04
		        userData: prometheus
		        userDataVars:
		          target: node
	`)))
	require.NoError(t, err)
	assert.Len(t, bp.Vpcs, 2)
}

func TestRouteParseTarget(t *testing.T) {
	kind, name, err := Route{Target: "transit-gateway:hub"}.ParseTarget()
	require.NoError(t, err)
	assert.Equal(t, TargetTransitGateway, kind)
	assert.Equal(t, "hub", name)

	_, _, err = Route{Target: "peering:"}.ParseTarget()
	assert.Error(t, err)
}

func TestProtocols(t *testing.T) {
	n, err := ProtocolNumber("TCP")
	require.NoError(t, err)
	assert.Equal(t, "6", n)
	n, err = ProtocolNumber("47")
	require.NoError(t, err)
	assert.Equal(t, "47", n)
	_, err = ProtocolNumber("300")
	assert.Error(t, err)

	p, err := SecurityGroupProtocol("all")
	require.NoError(t, err)
	assert.Equal(t, "-1", p)
	p, err = SecurityGroupProtocol("UDP")
	require.NoError(t, err)
	assert.Equal(t, "udp", p)

	from, to := Rule{Protocol: "icmp"}.PortRange()
	assert.Equal(t, []int64{-1, -1}, []int64{from, to})
	from, to = Rule{Protocol: "tcp", Port: 1024, ToPort: 65535}.PortRange()
	assert.Equal(t, []int64{1024, 65535}, []int64{from, to})
	from, to = AclEntry{Protocol: "tcp", Port: 22}.PortRange()
	assert.Equal(t, []int64{22, 22}, []int64{from, to})
}
