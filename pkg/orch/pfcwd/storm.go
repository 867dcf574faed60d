package pfcwd

import (
	"context"
	"maps"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/newtron-network/newtorch/pkg/resolver"
	"github.com/newtron-network/newtorch/pkg/sai"
	"github.com/newtron-network/newtorch/pkg/store"
)

// AclPriority is the priority of the per-queue drop rules.
const AclPriority = "1000"

const aclTableName = "pfcwd"

// evaluate converges every watched queue of a port, then the port's
// in-storm entry and PFC bits.
func (o *Orch) evaluate(ctx context.Context, alias string) error {
	w := o.ports.Get(alias).watch
	inStorm := make(map[string]string)
	for _, q := range w.queues {
		if err := o.evalQueue(ctx, w, q); err != nil {
			return err
		}
		if q.storm && !o.brs {
			inStorm[strconv.Itoa(q.index)] = "storm"
		}
	}
	if len(inStorm) == 0 {
		if err := o.Unpublish(ctx, store.ApplDB, InStormTable, alias); err != nil {
			return err
		}
	} else {
		cur, err := o.Store.Get(ctx, store.ApplDB, InStormTable, alias)
		if err != nil {
			return err
		}
		if !maps.Equal(cur, inStorm) {
			if err := o.Unpublish(ctx, store.ApplDB, InStormTable, alias); err != nil {
				return err
			}
			if err := o.Publish(ctx, store.ApplDB, InStormTable, alias, inStorm); err != nil {
				return err
			}
		}
	}
	return o.applyPFC(ctx, alias)
}

// evalQueue moves q into or out of the dropping state. The big red switch
// only overlays the queue's own storm state, so a queue already storming
// is not detected twice.
func (o *Orch) evalQueue(ctx context.Context, w *watch, q *queue) error {
	want := q.storm || o.brs
	if want != q.dropping {
		if want {
			q.detected++
		} else {
			q.restored++
		}
		q.dropping = want
		o.Log.WithFields(logrus.Fields{"port": q.port, "queue": q.index}).
			Infof("Queue %s", status(want))
	}

	needACL := q.dropping && w.cfg.action == ActionDrop
	switch {
	case needACL && q.acl.Empty():
		if err := o.installDrop(ctx, w, q); err != nil {
			return err
		}
	case !needACL && !q.acl.Empty():
		if err := o.R.Release(ctx, q.acl); err != nil {
			return err
		}
	}
	return o.publishQueue(ctx, w, q)
}

func status(dropping bool) string {
	if dropping {
		return StatusStormed
	}
	return StatusOperational
}

func (o *Orch) publishQueue(ctx context.Context, w *watch, q *queue) error {
	fields := map[string]string{
		FieldStatus:          status(q.dropping),
		FieldDetected:        strconv.Itoa(q.detected),
		FieldRestored:        strconv.Itoa(q.restored),
		FieldAction:          w.cfg.action,
		FieldDetectionTime:   strconv.Itoa(w.cfg.detection),
		FieldRestorationTime: strconv.Itoa(w.cfg.restoration),
	}
	if o.brs {
		fields[FieldBRSMode] = "enable"
	}
	if maps.Equal(fields, q.published) {
		return nil
	}
	if _, had := q.published[FieldBRSMode]; had && !o.brs {
		if err := o.Store.DeleteFields(ctx, store.CountersDB, CountersTable, q.oid, FieldBRSMode); err != nil {
			return err
		}
	}
	if err := o.Publish(ctx, store.CountersDB, CountersTable, q.oid, fields); err != nil {
		return err
	}
	q.published = fields
	return nil
}

// installDrop adds the ACL rule dropping the queue's traffic class on its
// port.
func (o *Orch) installDrop(ctx context.Context, w *watch, q *queue) error {
	table := &resolver.Node{
		Key:  resolver.AclTableKey(aclTableName),
		Type: sai.TypeAclTable,
		Build: func(resolver.Deps) (sai.Attrs, error) {
			return sai.Attrs{
				sai.AclTableAttrStage:   sai.AclStageIngress,
				sai.AclTableAttrTC:      sai.Bool(true),
				sai.AclTableAttrInPorts: sai.Bool(true),
			}, nil
		},
	}
	port := resolver.Ref(resolver.PortKey(q.port))
	tc := strconv.Itoa(q.index) + "&mask:0xff"
	rule := &resolver.Node{
		Key:      resolver.AclKey(aclTableName + ":" + q.port + ":" + strconv.Itoa(q.index)),
		Type:     sai.TypeAclEntry,
		Requires: []*resolver.Node{table, port},
		Build: func(d resolver.Deps) (sai.Attrs, error) {
			return sai.Attrs{
				sai.AclEntryAttrTable:      d.OID(table.Key),
				sai.AclEntryAttrPriority:   AclPriority,
				sai.AclEntryAttrTC:         tc,
				sai.AclEntryAttrInPorts:    sai.OIDList(d.OID(port.Key)),
				sai.AclEntryAttrAction:     sai.PacketActionDrop,
				sai.AclEntryAttrAdminState: sai.Bool(true),
			}, nil
		},
	}
	_, err := o.R.Resolve(ctx, q.acl, rule)
	return err
}
