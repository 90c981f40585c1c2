package lab

import "strings"

type ImageFamily struct {
	Owner       string
	NamePattern string
}

const DefaultImage = "amazon-linux-2023"

var ImageFamilies = map[string]ImageFamily{
	"amazon-linux-2023": {Owner: "137112412989", NamePattern: "al2023-ami-*-x86_64"},
	"amazon-linux-2":    {Owner: "137112412989", NamePattern: "amzn2-ami-hvm-*-x86_64-gp2"},
	"ubuntu-22.04":      {Owner: "099720109477", NamePattern: "ubuntu/images/hvm-ssd/ubuntu-jammy-22.04-amd64-server-*"},
	"ubuntu-24.04":      {Owner: "099720109477", NamePattern: "ubuntu/images/hvm-ssd-gp3/ubuntu-noble-24.04-amd64-server-*"},
}

// IsImageId reports whether image names an AMI directly instead of a family.
func IsImageId(image string) bool {
	return strings.HasPrefix(image, "ami-")
}
