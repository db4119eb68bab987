// Package ingest parses supplier/customer/shipment tables and aggregates
// them into the weighted node set consumed by the solver.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"facloc/internal/geo"
	"facloc/internal/model"
)

// WarehouseID is the placeholder used in shipment records for the warehouse
// side of a lane.
const WarehouseID = "Warehouse"

// header canonicalization: lowercase, keep letters and digits only. Handles
// variants like "Supplier_ID", "Volume_m³", "Latitude".
func canonical(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(h)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func indexHeaders(record []string) map[string]int {
	idx := map[string]int{}
	for i, h := range record {
		idx[canonical(h)] = i
	}
	return idx
}

func pick(idx map[string]int, names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := idx[n]; ok {
			return i, true
		}
	}
	return 0, false
}

// ParseSuppliers reads a supplier coordinate table (Supplier_ID, Latitude,
// Longitude).
func ParseSuppliers(r io.Reader) ([]model.SupplierIn, error) {
	rows, id, lat, lng, err := readCoordTable(r, "suppliers", []string{"supplierid", "id"})
	if err != nil {
		return nil, err
	}
	out := make([]model.SupplierIn, 0, len(rows))
	for n, rec := range rows {
		la, lo, err := parseLatLng(rec[lat], rec[lng], "suppliers", n+2)
		if err != nil {
			return nil, err
		}
		out = append(out, model.SupplierIn{ID: strings.TrimSpace(rec[id]), Lat: la, Lng: lo})
	}
	return out, nil
}

// ParseCustomers reads a customer coordinate table (Customer_ID, Latitude,
// Longitude).
func ParseCustomers(r io.Reader) ([]model.CustomerIn, error) {
	rows, id, lat, lng, err := readCoordTable(r, "customers", []string{"customerid", "id"})
	if err != nil {
		return nil, err
	}
	out := make([]model.CustomerIn, 0, len(rows))
	for n, rec := range rows {
		la, lo, err := parseLatLng(rec[lat], rec[lng], "customers", n+2)
		if err != nil {
			return nil, err
		}
		out = append(out, model.CustomerIn{ID: strings.TrimSpace(rec[id]), Lat: la, Lng: lo})
	}
	return out, nil
}

func readCoordTable(r io.Reader, name string, idNames []string) (rows [][]string, id, lat, lng int, err error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	all, err := cr.ReadAll()
	if err != nil {
		return nil, 0, 0, 0, fmt.Errorf("%s: %w", name, err)
	}
	if len(all) == 0 {
		return nil, 0, 0, 0, fmt.Errorf("%s: missing header row", name)
	}
	idx := indexHeaders(all[0])
	var ok bool
	if id, ok = pick(idx, idNames...); !ok {
		return nil, 0, 0, 0, fmt.Errorf("%s: id column not found", name)
	}
	if lat, ok = pick(idx, "latitude", "lat"); !ok {
		return nil, 0, 0, 0, fmt.Errorf("%s: latitude column not found", name)
	}
	if lng, ok = pick(idx, "longitude", "lng", "lon"); !ok {
		return nil, 0, 0, 0, fmt.Errorf("%s: longitude column not found", name)
	}
	return all[1:], id, lat, lng, nil
}

func parseLatLng(latS, lngS, name string, row int) (float64, float64, error) {
	la, err := strconv.ParseFloat(strings.TrimSpace(latS), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%s row %d: bad latitude %q", name, row, latS)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lngS), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%s row %d: bad longitude %q", name, row, lngS)
	}
	if !geo.ValidPoint(la, lo) {
		return 0, 0, fmt.Errorf("%s row %d: coordinates (%g,%g) outside lat/lng domain", name, row, la, lo)
	}
	return la, lo, nil
}

// ParseShipments reads a shipment table (Shipment_ID, Origin, Destination,
// Volume_m³).
func ParseShipments(r io.Reader) ([]model.ShipmentIn, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	all, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("shipments: %w", err)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("shipments: missing header row")
	}
	idx := indexHeaders(all[0])
	org, ok := pick(idx, "origin")
	if !ok {
		return nil, fmt.Errorf("shipments: origin column not found")
	}
	dst, ok := pick(idx, "destination")
	if !ok {
		return nil, fmt.Errorf("shipments: destination column not found")
	}
	vol, ok := pick(idx, "volumem3", "volumem", "volume")
	if !ok {
		return nil, fmt.Errorf("shipments: volume column not found")
	}
	id, hasID := pick(idx, "shipmentid", "id")
	out := make([]model.ShipmentIn, 0, len(all)-1)
	for n, rec := range all[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[vol]), 64)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("shipments row %d: bad volume %q", n+2, rec[vol])
		}
		s := model.ShipmentIn{
			Origin:      strings.TrimSpace(rec[org]),
			Destination: strings.TrimSpace(rec[dst]),
			Volume:      v,
		}
		if hasID {
			s.ID = strings.TrimSpace(rec[id])
		}
		out = append(out, s)
	}
	return out, nil
}

// Aggregate joins shipments against the coordinate tables: a shipment bound
// for the warehouse adds its volume to the origin supplier, a shipment
// leaving the warehouse adds to the destination customer. Every table row
// becomes a node, zero-volume ones included, so the node set reflects the
// full network.
func Aggregate(in model.DatasetIn) ([]model.WeightedNode, error) {
	nodes := make([]model.WeightedNode, 0, len(in.Suppliers)+len(in.Customers))
	pos := map[string]int{}
	for _, s := range in.Suppliers {
		if s.ID == "" {
			return nil, fmt.Errorf("supplier with empty id")
		}
		if _, dup := pos[s.ID]; dup {
			return nil, fmt.Errorf("duplicate node id %q", s.ID)
		}
		pos[s.ID] = len(nodes)
		nodes = append(nodes, model.WeightedNode{ID: s.ID, Kind: "supplier", Lat: s.Lat, Lng: s.Lng})
	}
	for _, c := range in.Customers {
		if c.ID == "" {
			return nil, fmt.Errorf("customer with empty id")
		}
		if _, dup := pos[c.ID]; dup {
			return nil, fmt.Errorf("duplicate node id %q", c.ID)
		}
		pos[c.ID] = len(nodes)
		nodes = append(nodes, model.WeightedNode{ID: c.ID, Kind: "customer", Lat: c.Lat, Lng: c.Lng})
	}
	for _, sh := range in.Shipments {
		var nodeID string
		switch {
		case sh.Destination == WarehouseID && sh.Origin != WarehouseID:
			nodeID = sh.Origin
		case sh.Origin == WarehouseID && sh.Destination != WarehouseID:
			nodeID = sh.Destination
		default:
			// lane not touching the warehouse; irrelevant to placement
			continue
		}
		i, ok := pos[nodeID]
		if !ok {
			return nil, fmt.Errorf("shipment %s references unknown node %q", sh.ID, nodeID)
		}
		nodes[i].Volume += sh.Volume
	}
	return nodes, nil
}
