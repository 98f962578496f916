package kms

import (
	"bytes"
	"fmt"
	"os"
	"unsafe"

	"github.com/NeowayLabs/drm"
	"github.com/NeowayLabs/drm/ioctl"
)

// Requests missing from the mode package

const (
	clientCapUniversalPlanes = 2

	objectConnector = 0xc0c0c0c0
	objectPlane     = 0xeeeeeeee

	pageFlipEvent = 0x01

	propNameLen = 32
)

type (
	// struct drm_set_client_cap
	sysSetClientCap struct {
		capability uint64
		value      uint64
	}

	// struct drm_mode_get_property
	sysGetProperty struct {
		valuesPtr      uint64
		enumBlobPtr    uint64
		propID         uint32
		flags          uint32
		name           [propNameLen]byte
		countValues    uint32
		countEnumBlobs uint32
	}

	// struct drm_mode_get_blob
	sysGetBlob struct {
		blobID uint32
		length uint32
		data   uint64
	}

	// struct drm_mode_get_plane_res
	sysGetPlaneResources struct {
		planeIDPtr  uint64
		countPlanes uint32
	}

	// struct drm_mode_get_plane
	sysGetPlane struct {
		planeID          uint32
		crtcID           uint32
		fbID             uint32
		possibleCRTCs    uint32
		gammaSize        uint32
		countFormatTypes uint32
		formatTypePtr    uint64
	}

	// struct drm_mode_obj_get_properties
	sysObjGetProperties struct {
		propsPtr      uint64
		propValuesPtr uint64
		countProps    uint32
		objID         uint32
		objType       uint32
	}

	// struct drm_mode_crtc_page_flip
	sysPageFlip struct {
		crtcID   uint32
		fbID     uint32
		flags    uint32
		reserved uint32
		userData uint64
	}
)

var (
	// DRM_IOW(0x0D, struct drm_set_client_cap)
	ioctlSetClientCap = ioctl.NewCode(ioctl.Write,
		uint16(unsafe.Sizeof(sysSetClientCap{})), drm.IOCTLBase, 0x0D)
	// DRM_IOWR(0xAA, struct drm_mode_get_property)
	ioctlModeGetProperty = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetProperty{})), drm.IOCTLBase, 0xAA)
	// DRM_IOWR(0xAC, struct drm_mode_get_blob)
	ioctlModeGetPropBlob = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetBlob{})), drm.IOCTLBase, 0xAC)
	// DRM_IOWR(0xB0, struct drm_mode_crtc_page_flip)
	ioctlModePageFlip = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysPageFlip{})), drm.IOCTLBase, 0xB0)
	// DRM_IOWR(0xB5, struct drm_mode_get_plane_res)
	ioctlModeGetPlaneResources = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetPlaneResources{})), drm.IOCTLBase, 0xB5)
	// DRM_IOWR(0xB6, struct drm_mode_get_plane)
	ioctlModeGetPlane = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetPlane{})), drm.IOCTLBase, 0xB6)
	// DRM_IOWR(0xB9, struct drm_mode_obj_get_properties)
	ioctlModeObjGetProperties = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysObjGetProperties{})), drm.IOCTLBase, 0xB9)
)

func doIoctl(file *os.File, code uint32, arg unsafe.Pointer) error {
	return ioctl.Do(file.Fd(), uintptr(code), uintptr(arg))
}

func setClientCap(file *os.File, capability, value uint64) error {
	return doIoctl(file, ioctlSetClientCap, unsafe.Pointer(&sysSetClientCap{capability: capability, value: value}))
}

// cString cuts a fixed size kernel string at its first NUL
func cString(b []byte) string {
	s, _, _ := bytes.Cut(b, []byte{0})
	return string(s)
}

// propertyName only asks for the name, the kernel skips value and enum arrays when both counts are 0
func propertyName(file *os.File, id uint32) (string, error) {
	prop := &sysGetProperty{propID: id}
	if err := doIoctl(file, ioctlModeGetProperty, unsafe.Pointer(prop)); err != nil {
		return "", err
	}
	return cString(prop.name[:]), nil
}

// objectProperties returns the property ids of an object with their current values
func objectProperties(file *os.File, object, objectType uint32) ([]uint32, []uint64, error) {
	req := &sysObjGetProperties{objID: object, objType: objectType}
	if err := doIoctl(file, ioctlModeObjGetProperties, unsafe.Pointer(req)); err != nil {
		return nil, nil, err
	}
	if req.countProps == 0 {
		return nil, nil, nil
	}
	ids := make([]uint32, req.countProps)
	values := make([]uint64, req.countProps)
	req.propsPtr = uint64(uintptr(unsafe.Pointer(&ids[0])))
	req.propValuesPtr = uint64(uintptr(unsafe.Pointer(&values[0])))
	if err := doIoctl(file, ioctlModeObjGetProperties, unsafe.Pointer(req)); err != nil {
		return nil, nil, err
	}
	// Properties can disappear between both calls
	n := min(int(req.countProps), len(ids))
	return ids[:n], values[:n], nil
}

func blobData(file *os.File, id uint32) ([]byte, error) {
	req := &sysGetBlob{blobID: id}
	if err := doIoctl(file, ioctlModeGetPropBlob, unsafe.Pointer(req)); err != nil {
		return nil, err
	}
	if req.length == 0 {
		return nil, nil
	}
	data := make([]byte, req.length)
	req.data = uint64(uintptr(unsafe.Pointer(&data[0])))
	if err := doIoctl(file, ioctlModeGetPropBlob, unsafe.Pointer(req)); err != nil {
		return nil, err
	}
	if int(req.length) != len(data) {
		return nil, fmt.Errorf("blob %d changed size while reading it", id)
	}
	return data, nil
}

func planeIDs(file *os.File) ([]uint32, error) {
	req := &sysGetPlaneResources{}
	if err := doIoctl(file, ioctlModeGetPlaneResources, unsafe.Pointer(req)); err != nil {
		return nil, err
	}
	if req.countPlanes == 0 {
		return nil, nil
	}
	ids := make([]uint32, req.countPlanes)
	req.planeIDPtr = uint64(uintptr(unsafe.Pointer(&ids[0])))
	if err := doIoctl(file, ioctlModeGetPlaneResources, unsafe.Pointer(req)); err != nil {
		return nil, err
	}
	n := min(int(req.countPlanes), len(ids))
	return ids[:n], nil
}

// planePossibleCRTCs returns the bitmask of crtc indices the plane can be attached to
func planePossibleCRTCs(file *os.File, id uint32) (uint32, error) {
	// count_format_types stays 0, so no format list gets copied
	req := &sysGetPlane{planeID: id}
	if err := doIoctl(file, ioctlModeGetPlane, unsafe.Pointer(req)); err != nil {
		return 0, err
	}
	return req.possibleCRTCs, nil
}

func pageFlip(file *os.File, crtc, fb uint32, userData uint64) error {
	flip := &sysPageFlip{
		crtcID:   crtc,
		fbID:     fb,
		flags:    pageFlipEvent,
		userData: userData,
	}
	return doIoctl(file, ioctlModePageFlip, unsafe.Pointer(flip))
}
