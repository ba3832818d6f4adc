package amazon

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"golang.org/x/sync/errgroup"

	"github.com/zgpcy/cloudspend/internal/provider"
)

// regionConcurrency bounds the regions scanned in parallel
const regionConcurrency = 8

func (c *Client) regions(ctx context.Context) ([]string, error) {
	out, err := c.ec2For(homeRegion).DescribeRegions(ctx, &ec2.DescribeRegionsInput{})
	if err != nil {
		return nil, classify("DescribeRegions", err)
	}
	regions := make([]string, 0, len(out.Regions))
	for _, r := range out.Regions {
		if name := aws.ToString(r.RegionName); name != "" {
			regions = append(regions, name)
		}
	}
	return regions, nil
}

// eachInstance calls fn for every instance matching input in every region.
// fn may be called concurrently for different regions.
func (c *Client) eachInstance(ctx context.Context, input *ec2.DescribeInstancesInput, fn func(region string, inst types.Instance)) error {
	regions, err := c.regions(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(regionConcurrency)
	for _, region := range regions {
		g.Go(func() error {
			paginator := ec2.NewDescribeInstancesPaginator(c.ec2For(region), input)
			for paginator.HasMorePages() {
				page, err := paginator.NextPage(gctx)
				if err != nil {
					return classify("DescribeInstances "+region, err)
				}
				for _, res := range page.Reservations {
					for _, inst := range res.Instances {
						fn(region, inst)
					}
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func terminated(inst types.Instance) bool {
	return inst.State != nil && inst.State.Name == types.InstanceStateNameTerminated
}

func toVM(region string, inst types.Instance) provider.VirtualMachine {
	vm := provider.VirtualMachine{
		ID:       aws.ToString(inst.InstanceId),
		IP:       aws.ToString(inst.PublicIpAddress),
		Tags:     map[string]string{"region": region},
		Provider: Name,
	}
	if inst.State != nil {
		vm.State = string(inst.State.Name)
	}
	for _, tag := range inst.Tags {
		key := aws.ToString(tag.Key)
		if key == "Name" {
			vm.Name = aws.ToString(tag.Value)
			continue
		}
		if key != "region" {
			vm.Tags[key] = aws.ToString(tag.Value)
		}
	}
	return vm
}

// InstanceCount implements provider.InstanceCounter, counting every instance
// that is not terminated
func (c *Client) InstanceCount(ctx context.Context) (int, error) {
	var (
		mu    sync.Mutex
		count int
	)
	err := c.eachInstance(ctx, &ec2.DescribeInstancesInput{}, func(region string, inst types.Instance) {
		if terminated(inst) {
			return
		}
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Instances implements provider.InstanceManager
func (c *Client) Instances(ctx context.Context) ([]provider.VirtualMachine, error) {
	var (
		mu  sync.Mutex
		vms []provider.VirtualMachine
	)
	err := c.eachInstance(ctx, &ec2.DescribeInstancesInput{}, func(region string, inst types.Instance) {
		if terminated(inst) {
			return
		}
		mu.Lock()
		vms = append(vms, toVM(region, inst))
		mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	return vms, nil
}

// Instance implements provider.InstanceManager, searching every region for id
func (c *Client) Instance(ctx context.Context, id string) (provider.VirtualMachine, error) {
	input := &ec2.DescribeInstancesInput{
		Filters: []types.Filter{{Name: aws.String("instance-id"), Values: []string{id}}},
	}
	var (
		mu    sync.Mutex
		found *provider.VirtualMachine
	)
	err := c.eachInstance(ctx, input, func(region string, inst types.Instance) {
		vm := toVM(region, inst)
		mu.Lock()
		if found == nil {
			found = &vm
		}
		mu.Unlock()
	})
	if err != nil {
		return provider.VirtualMachine{}, err
	}
	if found == nil {
		return provider.VirtualMachine{}, provider.Unknown(Name, "instance "+id+" not found", nil)
	}
	return *found, nil
}

// DeleteInstance implements provider.InstanceManager. vm must carry its
// region in Tags["region"], as returned by Instances and Instance.
func (c *Client) DeleteInstance(ctx context.Context, vm provider.VirtualMachine) error {
	region := vm.Tags["region"]
	if region == "" {
		return provider.Unknown(Name, "instance "+vm.ID+" has no region tag", nil)
	}
	_, err := c.ec2For(region).TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{vm.ID},
	})
	if err != nil {
		return classify("TerminateInstances", err)
	}
	c.logger.Info("Terminated instance", "instance_id", vm.ID, "region", region)
	return nil
}
